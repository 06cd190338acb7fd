package room

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/blackjacktable/server/internal/game"
	"github.com/blackjacktable/server/internal/ids"
	"github.com/blackjacktable/server/internal/prompt"
	"github.com/blackjacktable/server/internal/protocol"
)

const (
	defaultChips      = 1000
	defaultMaxPlayers = 6
	defaultMinBet     = 5
	defaultMaxBet     = 500
	defaultDeckCount  = 4
	minNameLength     = 2

	eventBufferSize = 64
)

// Sink is the narrow transport capability the room manager needs: reach a
// session's socket, fan a message out to several sessions, and resolve a
// player's current session for the prompt router's sake.
type Sink interface {
	Send(session ids.SessionId, msg any) error
	Broadcast(sessions []ids.SessionId, msg any)
	BindPlayer(session ids.SessionId, player ids.PlayerId)
	SessionForPlayer(player ids.PlayerId) (ids.SessionId, bool)
}

// Manager is the room table's single coordinator goroutine. Every
// RoomCommands method below, and every BroadcastToRoom call the running game
// drivers make back through a roomAdapter, is just an event enqueued on one
// channel;
// run() is the only goroutine that ever touches the room/session maps, so
// nothing inside it needs a lock.
type Manager struct {
	sink     Sink
	prompts  *prompt.Router
	registry *game.Registry
	logger   *zap.Logger

	events chan event
	stop   chan struct{}
	done   chan struct{}

	rooms         map[ids.RoomId]*Room
	sessionPlayer map[ids.SessionId]ids.PlayerId
	playerName    map[ids.PlayerId]string
	playerRoom    map[ids.PlayerId]ids.RoomId
}

// NewManager builds a room manager and starts its coordinator goroutine.
// Call Stop to shut it down cleanly (used by tests and graceful exit).
func NewManager(sink Sink, prompts *prompt.Router, registry *game.Registry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sink:          sink,
		prompts:       prompts,
		registry:      registry,
		logger:        logger,
		events:        make(chan event, eventBufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		rooms:         make(map[ids.RoomId]*Room),
		sessionPlayer: make(map[ids.SessionId]ids.PlayerId),
		playerName:    make(map[ids.PlayerId]string),
		playerRoom:    make(map[ids.PlayerId]ids.RoomId),
	}
	go m.run()
	return m
}

// Stop ends the coordinator goroutine. It does not tear down live games;
// callers should only call it during process shutdown or in tests that
// never start a game.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case ev := <-m.events:
			ev.apply(m)
		case <-m.stop:
			return
		}
	}
}

// event is one unit of coordinator work: a RoomCommands call, a
// driver-finished notification, or a room-fanout request from a running
// game's adapter.
type event interface {
	apply(m *Manager)
}

func (m *Manager) enqueue(ev event) {
	m.events <- ev
}

// --- transport.RoomCommands -------------------------------------------------

type identifyEvent struct {
	session ids.SessionId
	name    string
}

func (e identifyEvent) apply(m *Manager) { m.handleIdentify(e.session, e.name) }

func (m *Manager) Identify(session ids.SessionId, name string) {
	m.enqueue(identifyEvent{session, name})
}

type listRoomsEvent struct{ session ids.SessionId }

func (e listRoomsEvent) apply(m *Manager) { m.handleListRooms(e.session) }

func (m *Manager) ListRooms(session ids.SessionId) { m.enqueue(listRoomsEvent{session}) }

type listGamesEvent struct{ session ids.SessionId }

func (e listGamesEvent) apply(m *Manager) { m.handleListGames(e.session) }

func (m *Manager) ListGames(session ids.SessionId) { m.enqueue(listGamesEvent{session}) }

type createRoomEvent struct {
	session ids.SessionId
	payload protocol.RoomCreatePayload
}

func (e createRoomEvent) apply(m *Manager) { m.handleCreateRoom(e.session, e.payload) }

func (m *Manager) CreateRoom(session ids.SessionId, payload protocol.RoomCreatePayload) {
	m.enqueue(createRoomEvent{session, payload})
}

type joinRoomEvent struct {
	session ids.SessionId
	roomId  string
}

func (e joinRoomEvent) apply(m *Manager) { m.handleJoinRoom(e.session, e.roomId) }

func (m *Manager) JoinRoom(session ids.SessionId, roomId string) {
	m.enqueue(joinRoomEvent{session, roomId})
}

type leaveRoomEvent struct{ session ids.SessionId }

func (e leaveRoomEvent) apply(m *Manager) { m.handleLeaveRoom(e.session) }

func (m *Manager) LeaveRoom(session ids.SessionId) { m.enqueue(leaveRoomEvent{session}) }

type setReadyEvent struct {
	session ids.SessionId
	ready   bool
}

func (e setReadyEvent) apply(m *Manager) { m.handleSetReady(e.session, e.ready) }

func (m *Manager) SetReady(session ids.SessionId, ready bool) {
	m.enqueue(setReadyEvent{session, ready})
}

type startGameEvent struct{ session ids.SessionId }

func (e startGameEvent) apply(m *Manager) { m.handleStartGame(e.session) }

func (m *Manager) StartGame(session ids.SessionId) { m.enqueue(startGameEvent{session}) }

type disconnectEvent struct{ session ids.SessionId }

func (e disconnectEvent) apply(m *Manager) { m.handleDisconnect(e.session) }

func (m *Manager) OnDisconnect(session ids.SessionId) { m.enqueue(disconnectEvent{session}) }

// --- driver-facing events ---------------------------------------------------

type broadcastToRoomEvent struct {
	roomID ids.RoomId
	msg    any
}

func (e broadcastToRoomEvent) apply(m *Manager) {
	r, ok := m.rooms[e.roomID]
	if !ok {
		return
	}
	m.sink.Broadcast(r.sessions(), e.msg)
}

type gameEndedEvent struct{ roomID ids.RoomId }

func (e gameEndedEvent) apply(m *Manager) { m.handleGameEnded(e.roomID) }

// --- handlers ----------------------------------------------------------------

func (m *Manager) handleIdentify(session ids.SessionId, name string) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < minNameLength || strings.EqualFold(trimmed, string(ids.DealerId)) {
		_ = m.sink.Send(session, protocol.NewRoomError("invalid_name"))
		return
	}
	if existing, ok := m.sessionPlayer[session]; ok {
		if _, inRoom := m.playerRoom[existing]; inRoom {
			_ = m.sink.Send(session, protocol.NewRoomError("already_in_room"))
			return
		}
		delete(m.playerName, existing)
	}

	player := ids.NewPlayerId()
	m.sessionPlayer[session] = player
	m.playerName[player] = trimmed
	m.sink.BindPlayer(session, player)

	_ = m.sink.Send(session, protocol.NewIdentified(string(player), trimmed))
}

func (m *Manager) handleListRooms(session ids.SessionId) {
	var summaries []protocol.RoomSummary
	for _, r := range m.rooms {
		if r.IsPrivate {
			continue
		}
		summaries = append(summaries, roomSummary(r))
	}
	_ = m.sink.Send(session, protocol.NewRoomListMsg(summaries))
}

func (m *Manager) handleListGames(session ids.SessionId) {
	metas := m.registry.GetAvailableGames()
	games := make([]protocol.GameMeta, len(metas))
	for i, meta := range metas {
		games[i] = protocol.GameMeta{
			Type:        meta.Type,
			Name:        meta.Name,
			Category:    meta.Category,
			Description: meta.Description,
			MinPlayers:  meta.MinPlayers,
			MaxPlayers:  meta.MaxPlayers,
			Icon:        meta.Icon,
		}
	}
	_ = m.sink.Send(session, protocol.NewGameListMsg(games))
}

func (m *Manager) handleCreateRoom(session ids.SessionId, payload protocol.RoomCreatePayload) {
	player, ok := m.identifiedPlayer(session)
	if !ok {
		_ = m.sink.Send(session, protocol.NewRoomError("not_identified"))
		return
	}
	if _, inRoom := m.playerRoom[player]; inRoom {
		_ = m.sink.Send(session, protocol.NewRoomError("already_in_room"))
		return
	}

	gameType := payload.GameType
	if gameType == "" {
		gameType = "blackjack"
	}
	meta, ok := m.registry.GetFactory(gameType)
	if !ok {
		_ = m.sink.Send(session, protocol.NewRoomError("unknown_game_type"))
		return
	}
	gm := meta.Meta()

	name := strings.TrimSpace(payload.Name)
	if name == "" {
		name = fmt.Sprintf("%s's Room", m.playerName[player])
	}

	maxPlayers := defaultMaxPlayers
	if payload.MaxPlayers != nil {
		maxPlayers = *payload.MaxPlayers
	}
	maxPlayers = clamp(maxPlayers, gm.MinPlayers, gm.MaxPlayers)

	minBet := defaultMinBet
	if payload.MinBet != nil {
		minBet = *payload.MinBet
	}
	if minBet < 1 {
		minBet = 1
	}
	maxBet := defaultMaxBet
	if payload.MaxBet != nil {
		maxBet = *payload.MaxBet
	}
	if maxBet < minBet {
		maxBet = minBet
	}
	deckCount := defaultDeckCount
	if payload.DeckCount != nil {
		deckCount = *payload.DeckCount
	}
	if deckCount < 1 {
		deckCount = defaultDeckCount
	}
	isPrivate := payload.IsPrivate != nil && *payload.IsPrivate

	roomID, err := m.mintRoomId()
	if err != nil {
		m.logger.Error("room: failed to mint room id", zap.Error(err))
		_ = m.sink.Send(session, protocol.NewRoomError("internal_error"))
		return
	}

	r := &Room{
		ID:         roomID,
		Name:       name,
		GameType:   gameType,
		IsPrivate:  isPrivate,
		MaxPlayers: maxPlayers,
		MinBet:     minBet,
		MaxBet:     maxBet,
		DeckCount:  deckCount,
		HostID:     player,
	}
	member := &Member{PlayerID: player, SessionID: session, Name: m.playerName[player], Chips: defaultChips}
	r.Members = append(r.Members, member)
	m.rooms[roomID] = r
	m.playerRoom[player] = roomID

	_ = m.sink.Send(session, protocol.NewRoomJoined(roomSummary(r), true))
	m.broadcastRoomPlayers(r)
}

func (m *Manager) handleJoinRoom(session ids.SessionId, raw string) {
	player, ok := m.identifiedPlayer(session)
	if !ok {
		_ = m.sink.Send(session, protocol.NewRoomError("not_identified"))
		return
	}
	if _, inRoom := m.playerRoom[player]; inRoom {
		_ = m.sink.Send(session, protocol.NewRoomError("already_in_room"))
		return
	}
	roomID, err := ids.NormalizeRoomId(raw)
	if err != nil {
		_ = m.sink.Send(session, protocol.NewRoomError("invalid_room_code"))
		return
	}
	r, ok := m.rooms[roomID]
	if !ok {
		_ = m.sink.Send(session, protocol.NewRoomError("room_not_found"))
		return
	}
	if len(r.Members) >= r.MaxPlayers {
		_ = m.sink.Send(session, protocol.NewRoomError("room_full"))
		return
	}
	if r.IsPlaying {
		_ = m.sink.Send(session, protocol.NewRoomError("game_in_progress"))
		return
	}

	member := &Member{PlayerID: player, SessionID: session, Name: m.playerName[player], Chips: defaultChips}
	r.Members = append(r.Members, member)
	m.playerRoom[player] = roomID

	_ = m.sink.Send(session, protocol.NewRoomJoined(roomSummary(r), false))
	m.broadcastRoomPlayers(r)
}

func (m *Manager) handleLeaveRoom(session ids.SessionId) {
	player, ok := m.sessionPlayer[session]
	if !ok {
		return
	}
	roomID, inRoom := m.playerRoom[player]
	if !inRoom {
		return
	}
	r := m.rooms[roomID]

	playerName := m.playerName[player]
	r.removeMember(player)
	delete(m.playerRoom, player)

	if len(r.Members) == 0 {
		delete(m.rooms, roomID)
		if r.cancel != nil {
			r.cancel()
		}
		m.prompts.Cancel(session)
		_ = m.sink.Send(session, protocol.NewRoomLeft())
		return
	}

	if r.HostID == player {
		r.HostID = r.Members[0].PlayerID
		if r.driver != nil {
			r.driver.NotifyHostChanged(r.HostID)
		}
	}
	// Tell the live driver about the departure before cancelling the
	// leaver's prompt: the control-channel send below happens synchronously,
	// so by the time a blocked Ask() wakes from the cancellation the
	// driver's next drainControl() already observes the updated roster.
	if r.driver != nil {
		r.driver.NotifyPlayerLeft(player)
	}
	m.prompts.Cancel(session)

	_ = m.sink.Send(session, protocol.NewRoomLeft())
	m.sink.Broadcast(r.sessions(), protocol.NewPlayerLeft(string(player), playerName))
	m.broadcastRoomPlayers(r)
}

func (m *Manager) handleSetReady(session ids.SessionId, ready bool) {
	player, ok := m.sessionPlayer[session]
	if !ok {
		return
	}
	roomID, inRoom := m.playerRoom[player]
	if !inRoom {
		return
	}
	r := m.rooms[roomID]
	member := r.memberByPlayer(player)
	if member == nil {
		return
	}
	member.IsReady = ready
	m.broadcastRoomPlayers(r)
	if ready && r.allReady() {
		m.sink.Broadcast(r.sessions(), protocol.NewRoomReadyToStart())
	}
}

func (m *Manager) handleStartGame(session ids.SessionId) {
	player, ok := m.sessionPlayer[session]
	if !ok {
		_ = m.sink.Send(session, protocol.NewRoomError("not_identified"))
		return
	}
	roomID, inRoom := m.playerRoom[player]
	if !inRoom {
		_ = m.sink.Send(session, protocol.NewRoomError("not_in_room"))
		return
	}
	r := m.rooms[roomID]
	if r.IsPlaying {
		_ = m.sink.Send(session, protocol.NewRoomError("game_already_started"))
		return
	}
	if r.HostID != player {
		_ = m.sink.Send(session, protocol.NewRoomError("not_host"))
		return
	}
	factory, ok := m.registry.GetFactory(r.GameType)
	if !ok {
		_ = m.sink.Send(session, protocol.NewRoomError("unknown_game_type"))
		return
	}
	if len(r.Members) < factory.Meta().MinPlayers {
		_ = m.sink.Send(session, protocol.NewRoomError("not_enough_players"))
		return
	}

	r.IsPlaying = true
	m.sink.Broadcast(r.sessions(), protocol.NewGameStarting())

	seats := make([]game.Seat, len(r.Members))
	for i, mem := range r.Members {
		seats[i] = game.Seat{PlayerID: mem.PlayerID, Name: mem.Name, Chips: mem.Chips}
	}
	cfg := game.Config{Deck: deckConfig(r.DeckCount), MinBet: r.MinBet, MaxBet: r.MaxBet}

	adapter := &roomAdapter{mgr: m, roomID: roomID}
	driver := factory.Create(adapter, m.prompts, seats, cfg, r.HostID)
	r.driver = driver

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		driver.Run(ctx)
		m.enqueue(gameEndedEvent{roomID})
	}()
}

func (m *Manager) handleGameEnded(roomID ids.RoomId) {
	r, ok := m.rooms[roomID]
	if !ok {
		return
	}
	r.IsPlaying = false
	r.driver = nil
	r.cancel = nil
	for _, mem := range r.Members {
		mem.IsReady = false
	}
	m.sink.Broadcast(r.sessions(), protocol.NewGameEnded())
	m.broadcastRoomPlayers(r)
}

func (m *Manager) handleDisconnect(session ids.SessionId) {
	m.handleLeaveRoom(session)
	if player, ok := m.sessionPlayer[session]; ok {
		delete(m.playerName, player)
	}
	delete(m.sessionPlayer, session)
}

// --- helpers -----------------------------------------------------------------

func (m *Manager) identifiedPlayer(session ids.SessionId) (ids.PlayerId, bool) {
	player, ok := m.sessionPlayer[session]
	return player, ok
}

func (m *Manager) broadcastRoomPlayers(r *Room) {
	views := make([]protocol.RoomPlayerView, len(r.Members))
	for i, mem := range r.Members {
		views[i] = protocol.RoomPlayerView{
			PlayerId: string(mem.PlayerID),
			Name:     mem.Name,
			IsReady:  mem.IsReady,
			IsHost:   mem.PlayerID == r.HostID,
		}
	}
	m.sink.Broadcast(r.sessions(), protocol.NewRoomPlayersMsg(views))
}

// mintRoomId generates a room code, retrying once on collision with a
// currently live room. A second collision is rare enough (the code space is
// 31^6) that it surfaces as an error to the caller rather than looping
// unboundedly inside the coordinator goroutine.
var errRoomIdCollision = fmt.Errorf("room: room id collided twice")

func (m *Manager) mintRoomId() (ids.RoomId, error) {
	id, err := ids.NewRoomId()
	if err != nil {
		return "", err
	}
	if _, exists := m.rooms[id]; !exists {
		return id, nil
	}
	id, err = ids.NewRoomId()
	if err != nil {
		return "", err
	}
	if _, exists := m.rooms[id]; exists {
		return "", errRoomIdCollision
	}
	return id, nil
}

func roomSummary(r *Room) protocol.RoomSummary {
	return protocol.RoomSummary{
		Id:          string(r.ID),
		Name:        r.Name,
		PlayerCount: len(r.Members),
		MaxPlayers:  r.MaxPlayers,
		IsPrivate:   r.IsPrivate,
		IsPlaying:   r.IsPlaying,
		GameType:    r.GameType,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
