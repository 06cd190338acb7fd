package game

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blackjacktable/server/internal/blackjack"
	"github.com/blackjacktable/server/internal/ids"
	"github.com/blackjacktable/server/internal/prompt"
	"github.com/blackjacktable/server/internal/protocol"
)

const dealerPause = time.Second

// blackjackFactory mints blackjackDriver instances.
type blackjackFactory struct {
	logger *zap.Logger
}

// NewBlackjackFactory builds the factory that registers Blackjack under the
// game registry.
func NewBlackjackFactory(logger *zap.Logger) Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return blackjackFactory{logger: logger}
}

func (blackjackFactory) Meta() Meta {
	return Meta{
		Type:        "blackjack",
		Name:        "Blackjack",
		Category:    "cards",
		Description: "Classic casino Blackjack: beat the dealer without going over 21.",
		MinPlayers:  1,
		MaxPlayers:  6,
	}
}

func (f blackjackFactory) Create(sink RoomSink, prompts *prompt.Router, seats []Seat, cfg Config, host ids.PlayerId) Driver {
	d := &blackjackDriver{
		sink:    sink,
		prompts: prompts,
		cfg:     cfg,
		names:   make(map[ids.PlayerId]string, len(seats)),
		roster:  make([]ids.PlayerId, len(seats)),
		host:    host,
		leftCh:  make(chan ids.PlayerId, 8),
		hostCh:  make(chan ids.PlayerId, 1),
		logger:  f.logger,
	}

	seatInputs := make([]blackjack.SeatInput, len(seats))
	for i, s := range seats {
		d.names[s.PlayerID] = s.Name
		d.roster[i] = s.PlayerID
		seatInputs[i] = blackjack.SeatInput{PlayerID: s.PlayerID, Name: s.Name, Chips: s.Chips}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	d.table = blackjack.NewTable(blackjack.Config{Deck: cfg.Deck, MinBet: cfg.MinBet, MaxBet: cfg.MaxBet}, seatInputs, rng)
	return d
}

// blackjackDriver is the single long-running procedure playing one room's
// Blackjack game. Player departures and host succession arrive on buffered
// control channels rather than mutating table state directly, so the driver
// only ever applies them at a safe point between prompt suspensions.
type blackjackDriver struct {
	sink    RoomSink
	prompts *prompt.Router
	cfg     Config
	names   map[ids.PlayerId]string
	roster  []ids.PlayerId
	host    ids.PlayerId
	table   *blackjack.Table
	leftCh  chan ids.PlayerId
	hostCh  chan ids.PlayerId
	logger  *zap.Logger
}

func (d *blackjackDriver) NotifyPlayerLeft(player ids.PlayerId) {
	select {
	case d.leftCh <- player:
	default:
		d.logger.Warn("blackjack: player-left control channel full, dropping notification", zap.String("player", string(player)))
	}
}

func (d *blackjackDriver) NotifyHostChanged(host ids.PlayerId) {
	select {
	case d.hostCh <- host:
		return
	default:
	}
	select {
	case <-d.hostCh:
	default:
	}
	select {
	case d.hostCh <- host:
	default:
	}
}

func (d *blackjackDriver) Run(ctx context.Context) {
	d.sink.BroadcastToRoom(protocol.NewIntro("Blackjack! Place your bets."))

roundLoop:
	for {
		select {
		case <-ctx.Done():
			break roundLoop
		default:
		}

		if !d.runBettingPhase(ctx) {
			break roundLoop
		}
		if err := d.table.DealInitialCards(); err != nil {
			d.logger.Error("blackjack: deal failed", zap.Error(err))
			break roundLoop
		}
		if !d.runPlayerTurnPhase(ctx) {
			break roundLoop
		}
		d.runDealerTurnPhase()
		d.runRoundOverPhase()
		if !d.afterRoundOver(ctx) {
			break roundLoop
		}
	}

	d.sink.BroadcastToRoom(protocol.NewNote(d.standingsNote()))
	d.sink.BroadcastToRoom(protocol.NewOutro("Thanks for playing!"))
}

// runBettingPhase asks each seated player, in seat order, for a bet. It
// reports whether the round should proceed (false means a still-present
// player chose to quit).
func (d *blackjackDriver) runBettingPhase(ctx context.Context) bool {
	for _, pid := range append([]ids.PlayerId(nil), d.roster...) {
		if !d.isMember(pid) {
			continue
		}
		if quit := d.collectBet(ctx, pid); quit {
			return false
		}
	}
	return true
}

func (d *blackjackDriver) collectBet(ctx context.Context, pid ids.PlayerId) (quit bool) {
	message := fmt.Sprintf("%s, enter your bet (chips: %d, limits: %d-%d):", d.names[pid], d.chipsOf(pid), d.cfg.MinBet, d.cfg.MaxBet)
	for {
		if !d.isMember(pid) {
			return false
		}
		d.broadcastState(fmt.Sprintf("Waiting on %s's bet.", d.names[pid]))

		resp := d.prompts.Ask(ctx, pid, prompt.Question{Kind: prompt.KindText, Message: message})
		d.drainControl()

		if resp.Cancelled {
			if d.isMember(pid) {
				return true
			}
			return false
		}

		chips := d.chipsOf(pid)
		amount, valid := parsePositiveInt(resp.Value)
		if !valid || amount > chips {
			d.sink.SendToPlayer(pid, protocol.NewValidationError("Enter a whole number of chips, at most your stack."))
			continue
		}
		if err := d.table.PlaceBet(pid, amount); err != nil {
			d.sink.SendToPlayer(pid, protocol.NewValidationError(err.Error()))
			continue
		}
		return false
	}
}

// runPlayerTurnPhase loops until no hand remains in play. It reports
// whether the round should proceed (false means a still-present player
// chose to quit).
func (d *blackjackDriver) runPlayerTurnPhase(ctx context.Context) bool {
	for d.table.Phase() == blackjack.PhasePlayerTurn {
		d.drainControl()

		// A departure can leave the index unset or on an already-settled
		// hand; move on to the next hand still in play.
		if status, ok := d.table.CurrentHandStatus(); !ok || status != blackjack.StatusPlaying {
			d.table.NextPlayer()
			continue
		}
		pid, _ := d.table.CurrentPlayer()
		if !d.isMember(pid) {
			d.table.NextPlayer()
			continue
		}

		d.broadcastState(fmt.Sprintf("%s's turn.", d.names[pid]))

		options := []string{"hit", "stand"}
		if d.table.CanDoubleDown(pid) {
			options = append(options, "double")
		}
		if d.table.CanSplit(pid) {
			options = append(options, "split")
		}
		options = append(options, "quit")

		resp := d.prompts.Ask(ctx, pid, prompt.Question{
			Kind:    prompt.KindSelect,
			Message: fmt.Sprintf("%s, choose your action:", d.names[pid]),
			Options: options,
		})
		d.drainControl()

		if resp.Cancelled {
			if d.isMember(pid) {
				return false
			}
			continue
		}

		action, _ := resp.Value.(string)
		if !d.applyAction(pid, action) {
			return false
		}
	}
	return true
}

// applyAction runs one player-turn choice against the rules engine. It
// reports whether the round should proceed (false only for an explicit
// quit).
func (d *blackjackDriver) applyAction(pid ids.PlayerId, action string) bool {
	switch action {
	case "hit":
		if err := d.table.Hit(pid); err != nil {
			d.sink.SendToPlayer(pid, protocol.NewValidationError(err.Error()))
			return true
		}
		if status, ok := d.table.CurrentHandStatus(); ok && status != blackjack.StatusPlaying {
			d.table.NextPlayer()
		}
	case "stand":
		_ = d.table.Stand(pid)
		d.table.NextPlayer()
	case "double":
		if err := d.table.DoubleDown(pid); err != nil {
			d.sink.SendToPlayer(pid, protocol.NewValidationError(err.Error()))
			return true
		}
		d.table.NextPlayer()
	case "split":
		if err := d.table.Split(pid); err != nil {
			d.sink.SendToPlayer(pid, protocol.NewValidationError(err.Error()))
			return true
		}
		// Remain on the parent hand; it plays next.
	case "quit":
		return false
	default:
		d.sink.SendToPlayer(pid, protocol.NewValidationError("Unrecognized action."))
	}
	return true
}

func (d *blackjackDriver) runDealerTurnPhase() {
	d.sink.BroadcastToRoom(protocol.NewSpinner("start", "Dealer is playing..."))
	time.Sleep(dealerPause)
	if err := d.table.DealerPlay(); err != nil {
		d.logger.Error("blackjack: dealer play failed", zap.Error(err))
	}
	d.sink.BroadcastToRoom(protocol.NewSpinner("stop", ""))
}

func (d *blackjackDriver) runRoundOverPhase() {
	results := d.table.ResolveRound()
	d.broadcastState("Round over.")
	d.sink.BroadcastToRoom(protocol.NewNote(d.roundResultsNote(results)))
}

// afterRoundOver prunes broke players and, if any remain, asks the current
// host whether to continue. It reports whether another round should begin.
func (d *blackjackDriver) afterRoundOver(ctx context.Context) bool {
	d.drainControl()
	for _, pid := range d.table.PruneBrokePlayers() {
		d.removeFromRoster(pid)
	}
	if len(d.roster) == 0 {
		return false
	}

	for {
		host := d.currentHost()
		if !d.isMember(host) {
			return false
		}

		resp := d.prompts.Ask(ctx, host, prompt.Question{
			Kind:    prompt.KindSelect,
			Message: "New round, or quit?",
			Options: []string{"new round", "quit"},
		})
		d.drainControl()

		if resp.Cancelled {
			if d.isMember(host) {
				return false
			}
			continue // host disappeared; retry with whoever succeeded them
		}

		choice, _ := resp.Value.(string)
		if choice == "quit" {
			return false
		}

		d.table.BeginRound()
		return true
	}
}

func (d *blackjackDriver) drainControl() {
	for {
		select {
		case pid := <-d.leftCh:
			d.applyPlayerLeft(pid)
		case host := <-d.hostCh:
			d.host = host
		default:
			return
		}
	}
}

func (d *blackjackDriver) applyPlayerLeft(pid ids.PlayerId) {
	d.table.RemovePlayer(pid)
	d.removeFromRoster(pid)
	d.broadcastState(fmt.Sprintf("%s left the table.", d.names[pid]))
}

func (d *blackjackDriver) removeFromRoster(pid ids.PlayerId) {
	for i, p := range d.roster {
		if p == pid {
			d.roster = append(d.roster[:i], d.roster[i+1:]...)
			return
		}
	}
}

func (d *blackjackDriver) isMember(pid ids.PlayerId) bool {
	for _, p := range d.roster {
		if p == pid {
			return true
		}
	}
	return false
}

func (d *blackjackDriver) currentHost() ids.PlayerId { return d.host }

func (d *blackjackDriver) chipsOf(pid ids.PlayerId) int {
	chips, _ := d.table.PlayerChips(pid)
	return chips
}

func (d *blackjackDriver) broadcastState(message string) {
	d.sink.BroadcastToRoom(toWireState(d.table.Snapshot(message)))
}

func (d *blackjackDriver) roundResultsNote(results []blackjack.PayoutResult) string {
	nets := make(map[ids.PlayerId]int)
	var order []ids.PlayerId
	for _, r := range results {
		if _, seen := nets[r.PlayerID]; !seen {
			order = append(order, r.PlayerID)
		}
		nets[r.PlayerID] += r.Net
	}

	var b strings.Builder
	b.WriteString("Round Results:")
	for _, pid := range order {
		net := nets[pid]
		sign := ""
		if net >= 0 {
			sign = "+"
		}
		fmt.Fprintf(&b, "\n%s: %s%d", d.names[pid], sign, net)
	}
	return b.String()
}

func (d *blackjackDriver) standingsNote() string {
	standings := d.table.Standings()
	var b strings.Builder
	b.WriteString("Final Standings:")
	for i, s := range standings {
		fmt.Fprintf(&b, "\n%s. %s — %d chips", ordinal(i+1), s.Name, s.Chips)
	}
	return b.String()
}

func ordinal(n int) string {
	if n%100 >= 11 && n%100 <= 13 {
		return fmt.Sprintf("%dth", n)
	}
	switch n % 10 {
	case 1:
		return fmt.Sprintf("%dst", n)
	case 2:
		return fmt.Sprintf("%dnd", n)
	case 3:
		return fmt.Sprintf("%drd", n)
	default:
		return fmt.Sprintf("%dth", n)
	}
}

func parsePositiveInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || x <= 0 {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func toWireState(gs blackjack.GameState) protocol.GameStateMsg {
	return protocol.GameStateMsg{
		Type:    "game_state",
		Phase:   string(gs.Phase),
		Dealer:  toWirePlayer(gs.Dealer),
		Players: toWirePlayers(gs.Players),
		Message: gs.Message,
	}
}

func toWirePlayers(pvs []blackjack.PlayerView) []protocol.PlayerStateView {
	out := make([]protocol.PlayerStateView, len(pvs))
	for i, pv := range pvs {
		out[i] = toWirePlayer(pv)
	}
	return out
}

func toWirePlayer(pv blackjack.PlayerView) protocol.PlayerStateView {
	hands := make([]protocol.HandView, len(pv.Hands))
	for i, h := range pv.Hands {
		hands[i] = toWireHand(h)
	}
	return protocol.PlayerStateView{
		PlayerId: string(pv.PlayerID),
		Name:     pv.Name,
		Chips:    pv.Chips,
		Hands:    hands,
	}
}

func toWireHand(h blackjack.HandView) protocol.HandView {
	cards := make([]protocol.CardView, len(h.Cards))
	for i, c := range h.Cards {
		cards[i] = protocol.CardView{Suit: string(c.Suit), Rank: string(c.Rank), Value: c.Value}
	}
	return protocol.HandView{
		HandId:      string(h.HandID),
		Cards:       cards,
		HiddenCards: h.HiddenCards,
		Bet:         h.Bet,
		Status:      string(h.Status),
		Value:       h.Value,
		IsSplit:     h.IsSplit,
	}
}
