// Package transport is the connection multiplexer: it owns every live
// websocket session, reads and decodes client frames, and dispatches them
// to the room manager or the prompt router. It knows nothing about room
// membership or game rules — just sockets and where their frames go.
package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blackjacktable/server/internal/ids"
	"github.com/blackjacktable/server/internal/protocol"
)

const (
	maxFrameBytes  = 64 * 1024
	sendBufferSize = 16
	writeWait      = 5 * time.Second

	// maxConsecutiveMalformed bounds how many unparsable frames in a row a
	// session gets before the connection is closed outright. A single
	// malformed frame is silently dropped per the protocol-error contract;
	// a client that never recovers is presumably not speaking the protocol
	// at all.
	maxConsecutiveMalformed = 5
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Session is one accepted connection. Its PlayerID is empty until an
// identify command succeeds.
type Session struct {
	ID       ids.SessionId
	PlayerID ids.PlayerId

	conn                 *websocket.Conn
	send                 chan any
	consecutiveBadFrames int
}

func (s *Session) writePump() {
	defer s.conn.Close()
	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// RoomCommands is the set of room-manager operations the multiplexer
// forwards decoded frames to. Every method is fire-and-forget: the room
// manager is itself a coordinator goroutine and replies asynchronously
// through the Sink it was given.
type RoomCommands interface {
	Identify(session ids.SessionId, name string)
	ListRooms(session ids.SessionId)
	ListGames(session ids.SessionId)
	CreateRoom(session ids.SessionId, payload protocol.RoomCreatePayload)
	JoinRoom(session ids.SessionId, roomId string)
	LeaveRoom(session ids.SessionId)
	SetReady(session ids.SessionId, ready bool)
	StartGame(session ids.SessionId)
	OnDisconnect(session ids.SessionId)
}

// PromptResponder is the prompt-router half of dispatch: frames with no
// recognized `type` are answers (or cancellations) to whatever prompt is
// outstanding for that session.
type PromptResponder interface {
	Respond(session ids.SessionId, value any) bool
	Cancel(session ids.SessionId) bool
}

// Multiplexer is the session registry. It implements prompt.Sink and the
// room package's Sink, so the prompt router and room manager reach
// players through it without knowing anything about websockets.
type Multiplexer struct {
	mu             sync.RWMutex
	sessions       map[ids.SessionId]*Session
	playerSessions map[ids.PlayerId]ids.SessionId

	rooms   RoomCommands
	prompts PromptResponder

	logger         *zap.Logger
	sessionTimeout time.Duration
}

// NewMultiplexer builds an empty multiplexer. AttachRoomCommands and
// AttachPromptResponder must be called before serving connections, since
// the room manager and prompt router in turn depend on the multiplexer as
// their sink — main wires the cycle after constructing both sides.
func NewMultiplexer(logger *zap.Logger) *Multiplexer {
	return &Multiplexer{
		sessions:       make(map[ids.SessionId]*Session),
		playerSessions: make(map[ids.PlayerId]ids.SessionId),
		logger:         logger,
	}
}

func (m *Multiplexer) AttachRoomCommands(rc RoomCommands)       { m.rooms = rc }
func (m *Multiplexer) AttachPromptResponder(pr PromptResponder) { m.prompts = pr }

// SetSessionTimeout bounds how long a connection may stay unidentified
// before it is dropped, wired from --session-timeout. Zero disables the
// timeout.
func (m *Multiplexer) SetSessionTimeout(d time.Duration) { m.sessionTimeout = d }

// ServeWS upgrades the request and runs the connection's read loop until
// the socket closes. It blocks; callers run it per-request from an HTTP
// handler goroutine.
func (m *Multiplexer) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sess := &Session{
		ID:   ids.NewSessionId(),
		conn: conn,
		send: make(chan any, sendBufferSize),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	go sess.writePump()
	_ = m.Send(sess.ID, protocol.NewConnected(string(sess.ID)))

	if m.sessionTimeout > 0 {
		stopTimeout := m.closeIfNeverIdentified(sess.ID, m.sessionTimeout)
		defer stopTimeout()
	}

	m.readPump(sess)
}

// closeIfNeverIdentified drops sess if it is still unidentified once d
// elapses. The returned func stops the timer early; callers defer it from
// ServeWS so it is cancelled once the read loop (and so the connection)
// ends for any other reason.
func (m *Multiplexer) closeIfNeverIdentified(session ids.SessionId, d time.Duration) (stop func()) {
	timer := time.AfterFunc(d, func() {
		m.mu.RLock()
		sess, ok := m.sessions[session]
		m.mu.RUnlock()
		if !ok || sess.PlayerID != "" {
			return
		}
		m.logger.Debug("closing idle unidentified session", zap.String("session", string(session)))
		m.Close(session)
	})
	return func() { timer.Stop() }
}

func (m *Multiplexer) readPump(sess *Session) {
	defer m.unregister(sess)

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		in, err := protocol.DecodeInbound(raw)
		if err != nil {
			// Malformed frames are silently dropped; a client that never
			// recovers gets disconnected rather than flooding the log.
			sess.consecutiveBadFrames++
			if sess.consecutiveBadFrames >= maxConsecutiveMalformed {
				return
			}
			continue
		}
		sess.consecutiveBadFrames = 0
		m.dispatch(sess, in)
	}
}

func (m *Multiplexer) dispatch(sess *Session, in protocol.Inbound) {
	switch in.Kind {
	case protocol.KindPromptReply:
		if in.PromptReply.Cancel {
			m.prompts.Cancel(sess.ID)
		} else {
			m.prompts.Respond(sess.ID, in.PromptReply.Value)
		}
	case protocol.KindIdentify:
		m.rooms.Identify(sess.ID, in.Identify.Name)
	case protocol.KindRoomList:
		m.rooms.ListRooms(sess.ID)
	case protocol.KindGameList:
		m.rooms.ListGames(sess.ID)
	case protocol.KindRoomCreate:
		m.rooms.CreateRoom(sess.ID, *in.RoomCreate)
	case protocol.KindRoomJoin:
		m.rooms.JoinRoom(sess.ID, in.RoomJoin.RoomId)
	case protocol.KindRoomLeave:
		m.rooms.LeaveRoom(sess.ID)
	case protocol.KindRoomReady:
		m.rooms.SetReady(sess.ID, in.RoomReady.Ready)
	case protocol.KindRoomStart:
		m.rooms.StartGame(sess.ID)
	}
}

func (m *Multiplexer) unregister(sess *Session) {
	if m.prompts != nil {
		m.prompts.Cancel(sess.ID)
	}
	if m.rooms != nil {
		m.rooms.OnDisconnect(sess.ID)
	}
	m.Close(sess.ID)
}

// Send delivers msg to session's socket. A full send buffer indicates a
// wedged client; the session is dropped rather than left to back up the
// caller indefinitely.
func (m *Multiplexer) Send(session ids.SessionId, msg any) error {
	m.mu.RLock()
	sess, ok := m.sessions[session]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: session %s not connected", session)
	}

	select {
	case sess.send <- msg:
		return nil
	default:
		m.Close(session)
		return fmt.Errorf("transport: send buffer full for session %s", session)
	}
}

// Broadcast best-effort delivers msg to each of sessions, dropping any that
// are wedged or already gone.
func (m *Multiplexer) Broadcast(sessions []ids.SessionId, msg any) {
	for _, sid := range sessions {
		_ = m.Send(sid, msg)
	}
}

// BindPlayer records that session belongs to player, enabling
// SessionForPlayer lookups for the prompt router and room manager.
func (m *Multiplexer) BindPlayer(session ids.SessionId, player ids.PlayerId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[session]; ok {
		sess.PlayerID = player
	}
	m.playerSessions[player] = session
}

// SessionForPlayer reports the session currently bound to player, if any.
func (m *Multiplexer) SessionForPlayer(player ids.PlayerId) (ids.SessionId, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.playerSessions[player]
	return s, ok
}

// Close drops session: its send channel is closed (ending its writePump)
// and its socket is closed. Safe to call more than once.
func (m *Multiplexer) Close(session ids.SessionId) {
	m.mu.Lock()
	sess, ok := m.sessions[session]
	if ok {
		delete(m.sessions, session)
		if sess.PlayerID != "" && m.playerSessions[sess.PlayerID] == session {
			delete(m.playerSessions, sess.PlayerID)
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	close(sess.send)
	_ = sess.conn.Close()
}

// CloseAll tells every connected session it is being disconnected and
// closes it with a normal closure code. Used for graceful shutdown.
func (m *Multiplexer) CloseAll() {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		_ = m.Send(s.ID, protocol.NewDisconnected())
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		m.Close(s.ID)
	}
}

// SessionCount reports how many sessions are currently connected.
func (m *Multiplexer) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
