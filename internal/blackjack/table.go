// Package blackjack is the pure rules engine: deal, hit, stand, double,
// split, dealer play, and payout, plus the hand-value arithmetic they share.
// It owns the deck, the dealer, and the seated players, but knows nothing
// about sessions, prompts, or the network — that's the game driver's job.
package blackjack

import (
	"math/rand"
	"sort"

	"github.com/blackjacktable/server/internal/deck"
	"github.com/blackjacktable/server/internal/ids"
)

// Table is one running Blackjack game.
type Table struct {
	cfg     Config
	shoe    *deck.Shoe
	rng     *rand.Rand
	players []*PlayerState
	dealer  *Hand

	phase     Phase
	turnOrder []*Hand
	current   int
}

// NewTable seats the given players and deals them into the first round's
// betting phase.
func NewTable(cfg Config, seats []SeatInput, rng *rand.Rand) *Table {
	t := &Table{
		cfg:    cfg,
		shoe:   deck.New(cfg.Deck),
		rng:    rng,
		dealer: &Hand{ID: ids.NewHandId(), Owner: ids.DealerId},
	}
	t.players = make([]*PlayerState, len(seats))
	for i, s := range seats {
		t.players[i] = &PlayerState{PlayerID: s.PlayerID, Name: s.Name, Chips: s.Chips}
	}
	t.BeginRound()
	return t
}

// BeginRound resets the shoe (reset + shuffle, per the shoe invariant),
// clears every hand and bet, and returns phase to betting. Called once by
// NewTable and again by the driver at the start of each subsequent round.
func (t *Table) BeginRound() {
	t.shoe.Reset()
	t.shoe.Shuffle(t.rng)

	for _, p := range t.players {
		p.Hands = []*Hand{{ID: ids.NewHandId(), Owner: p.PlayerID, Status: StatusPlaying}}
	}
	t.dealer.Cards = nil
	t.dealer.Status = StatusPlaying
	t.turnOrder = nil
	t.current = -1
	t.phase = PhaseBetting
}

// Phase reports the current phase.
func (t *Table) Phase() Phase { return t.phase }

// PlaceBet debits chips and records a bet. Valid only during betting. amount
// must be within both the player's chip stack and the table's configured
// [MinBet, MaxBet] range.
func (t *Table) PlaceBet(player ids.PlayerId, amount int) error {
	if t.phase != PhaseBetting {
		return ErrWrongPhase
	}
	p := t.playerFor(player)
	if p == nil {
		return ErrNotSeated
	}
	if amount <= 0 || amount > p.Chips {
		return ErrInvalidBet
	}
	if t.cfg.MinBet > 0 && amount < t.cfg.MinBet {
		return ErrInvalidBet
	}
	if t.cfg.MaxBet > 0 && amount > t.cfg.MaxBet {
		return ErrInvalidBet
	}
	p.Chips -= amount
	p.Hands[0].Bet = amount
	return nil
}

// DealInitialCards deals two interleaved cards to each seated player and the
// dealer, flags two-card 21s as blackjack, and advances to player-turn (or
// straight to dealer-turn if every hand is already settled).
func (t *Table) DealInitialCards() error {
	if t.phase != PhaseBetting {
		return ErrWrongPhase
	}
	t.phase = PhaseDealing

	for round := 0; round < 2; round++ {
		for _, p := range t.players {
			c, ok := t.shoe.Draw()
			if !ok {
				return ErrShoeExhausted
			}
			p.Hands[0].Cards = append(p.Hands[0].Cards, c)
		}
		c, ok := t.shoe.Draw()
		if !ok {
			return ErrShoeExhausted
		}
		t.dealer.Cards = append(t.dealer.Cards, c)
	}

	for _, p := range t.players {
		h := p.Hands[0]
		if isNaturalBlackjack(h.Cards) {
			h.Status = StatusBlackjack
		}
	}

	t.buildTurnOrder()
	t.phase = PhasePlayerTurn
	if !t.advanceToNextActive() {
		t.phase = PhaseDealerTurn
	}
	return nil
}

// CurrentPlayer returns the owner of the hand currently up, if any.
func (t *Table) CurrentPlayer() (ids.PlayerId, bool) {
	h, ok := t.currentHand()
	if !ok {
		return "", false
	}
	return h.Owner, true
}

// CurrentHandStatus reports the status of the hand currently up, if any.
// A driver uses this to tell whether a hit resolved the hand (no longer
// playing) or left it open for another hit.
func (t *Table) CurrentHandStatus() (Status, bool) {
	h, ok := t.currentHand()
	if !ok {
		return "", false
	}
	return h.Status, true
}

// Hit draws one card into the current hand.
func (t *Table) Hit(player ids.PlayerId) error {
	h, err := t.ownedCurrentHand(player)
	if err != nil {
		return err
	}
	c, ok := t.shoe.Draw()
	if !ok {
		return ErrShoeExhausted
	}
	h.Cards = append(h.Cards, c)
	settleHandAfterDraw(h)
	return nil
}

// Stand marks the current hand as stay.
func (t *Table) Stand(player ids.PlayerId) error {
	h, err := t.ownedCurrentHand(player)
	if err != nil {
		return err
	}
	h.Status = StatusStay
	return nil
}

// DoubleDown doubles the bet, draws exactly one card, then stands the hand
// (or busts it).
func (t *Table) DoubleDown(player ids.PlayerId) error {
	h, err := t.ownedCurrentHand(player)
	if err != nil {
		return err
	}
	if len(h.Cards) != 2 {
		return ErrCannotDouble
	}
	p := t.playerFor(player)
	if p == nil || p.Chips < h.Bet {
		return ErrInsufficientChips
	}
	p.Chips -= h.Bet
	h.Bet *= 2

	c, ok := t.shoe.Draw()
	if !ok {
		return ErrShoeExhausted
	}
	h.Cards = append(h.Cards, c)
	if handValue(h.Cards) > 21 {
		h.Status = StatusBust
	} else {
		h.Status = StatusStay
	}
	return nil
}

// CanDoubleDown reports whether the current hand may double down.
func (t *Table) CanDoubleDown(player ids.PlayerId) bool {
	h, err := t.ownedCurrentHand(player)
	if err != nil {
		return false
	}
	p := t.playerFor(player)
	return len(h.Cards) == 2 && p != nil && p.Chips >= h.Bet
}

// CanSplit reports whether the current hand may split.
func (t *Table) CanSplit(player ids.PlayerId) bool {
	h, err := t.ownedCurrentHand(player)
	if err != nil {
		return false
	}
	if len(h.Cards) != 2 || h.Cards[0].Rank != h.Cards[1].Rank || h.IsSplit {
		return false
	}
	p := t.playerFor(player)
	if p == nil || len(p.Hands) > 1 {
		return false
	}
	return p.Chips >= h.Bet
}

// Split moves the current hand's second card into a fresh split child
// carrying the same bet, deals one card to each half, and remains on the
// parent hand so its first half is played next.
func (t *Table) Split(player ids.PlayerId) error {
	if !t.CanSplit(player) {
		return ErrCannotSplit
	}
	h, _ := t.ownedCurrentHand(player)
	p := t.playerFor(player)

	p.Chips -= h.Bet
	moved := h.Cards[1]
	h.Cards = h.Cards[:1]

	child := &Hand{
		ID:      ids.NewHandId(),
		Owner:   player,
		Cards:   []deck.Card{moved},
		Bet:     h.Bet,
		Status:  StatusPlaying,
		IsSplit: true,
	}
	p.Hands = append(p.Hands, child)
	t.insertAfterCurrent(child)

	c1, ok := t.shoe.Draw()
	if !ok {
		return ErrShoeExhausted
	}
	h.Cards = append(h.Cards, c1)

	c2, ok := t.shoe.Draw()
	if !ok {
		return ErrShoeExhausted
	}
	child.Cards = append(child.Cards, c2)

	settleHandAfterDraw(h)
	settleHandAfterDraw(child)
	return nil
}

// NextPlayer advances to the next active hand (a split child counts before
// advancing past its parent, because it was inserted immediately after it).
// If no active hand remains, phase becomes dealer-turn.
func (t *Table) NextPlayer() {
	if !t.advanceToNextActive() {
		t.phase = PhaseDealerTurn
	}
}

// DealerPlay plays out the dealer's hand. If every player already busted,
// the dealer stands without drawing and the round ends immediately.
func (t *Table) DealerPlay() error {
	if t.phase != PhaseDealerTurn {
		return ErrWrongPhase
	}
	if t.allPlayersBust() {
		t.dealer.Status = StatusStay
		t.phase = PhaseRoundOver
		return nil
	}
	for handValue(t.dealer.Cards) < 17 {
		c, ok := t.shoe.Draw()
		if !ok {
			return ErrShoeExhausted
		}
		t.dealer.Cards = append(t.dealer.Cards, c)
	}
	if handValue(t.dealer.Cards) > 21 {
		t.dealer.Status = StatusBust
	} else {
		t.dealer.Status = StatusStay
	}
	t.phase = PhaseRoundOver
	return nil
}

// ResolveRound computes and credits each hand's payout.
func (t *Table) ResolveRound() []PayoutResult {
	dealerBJ := isNaturalBlackjack(t.dealer.Cards)
	dealerBust := t.dealer.Status == StatusBust
	dealerValue := handValue(t.dealer.Cards)

	var results []PayoutResult
	for _, p := range t.players {
		for _, h := range p.Hands {
			payout := payoutFor(h, dealerBJ, dealerBust, dealerValue)
			p.Chips += payout
			results = append(results, PayoutResult{
				PlayerID: p.PlayerID,
				HandID:   h.ID,
				Bet:      h.Bet,
				Payout:   payout,
				Net:      payout - h.Bet,
			})
		}
	}
	return results
}

// payoutFor settles one hand against the dealer's outcome. A split child's
// own natural blackjack is excluded from the 3:2 bonus and paid at 1:1,
// which falls out of the default comparison branch since its value is 21.
func payoutFor(h *Hand, dealerBJ, dealerBust bool, dealerValue int) int {
	switch {
	case h.Status == StatusBust:
		return 0
	case h.Status == StatusBlackjack && !h.IsSplit && dealerBJ:
		return h.Bet
	case h.Status == StatusBlackjack && !h.IsSplit:
		return h.Bet + (3*h.Bet)/2
	case dealerBJ:
		return 0
	case dealerBust:
		return 2 * h.Bet
	default:
		v := handValue(h.Cards)
		switch {
		case v > dealerValue:
			return 2 * h.Bet
		case v == dealerValue:
			return h.Bet
		default:
			return 0
		}
	}
}

// RemovePlayer is used by the game driver's player-left handler: it marks
// the departed player's hands bust, zeroes their chips, drops them from the
// seated list and the turn order (adjusting the current index), and
// transitions to dealer-turn if that emptied the active set. It returns
// whether any players remain seated.
func (t *Table) RemovePlayer(player ids.PlayerId) bool {
	idx := -1
	for i, p := range t.players {
		if p.PlayerID == player {
			idx = i
			break
		}
	}
	if idx == -1 {
		return len(t.players) > 0
	}
	for _, h := range t.players[idx].Hands {
		h.Status = StatusBust
	}
	t.players[idx].Chips = 0
	t.players = append(t.players[:idx], t.players[idx+1:]...)

	filtered := t.turnOrder[:0]
	removedAtOrBeforeCurrent := 0
	for i, h := range t.turnOrder {
		if h.Owner == player {
			if i <= t.current {
				removedAtOrBeforeCurrent++
			}
			continue
		}
		filtered = append(filtered, h)
	}
	t.turnOrder = filtered
	t.current -= removedAtOrBeforeCurrent
	if t.current >= len(t.turnOrder) {
		t.current = len(t.turnOrder) - 1
	}

	if t.phase == PhasePlayerTurn && !t.hasActiveHand() {
		t.phase = PhaseDealerTurn
	}
	return len(t.players) > 0
}

// PruneBrokePlayers removes every seated player with zero or negative chips
// and returns their PlayerIds.
func (t *Table) PruneBrokePlayers() []ids.PlayerId {
	var removed []ids.PlayerId
	kept := t.players[:0]
	for _, p := range t.players {
		if p.Chips <= 0 {
			removed = append(removed, p.PlayerID)
			continue
		}
		kept = append(kept, p)
	}
	t.players = kept
	return removed
}

// Standings returns seated players ordered by chips descending.
func (t *Table) Standings() []Standing {
	out := make([]Standing, len(t.players))
	for i, p := range t.players {
		out[i] = Standing{PlayerID: p.PlayerID, Name: p.Name, Chips: p.Chips}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Chips > out[j].Chips })
	return out
}

// PlayerCount reports how many players are currently seated.
func (t *Table) PlayerCount() int { return len(t.players) }

// IsSeated reports whether player currently holds a seat.
func (t *Table) IsSeated(player ids.PlayerId) bool {
	return t.playerFor(player) != nil
}

// PlayerChips returns a seated player's chip count.
func (t *Table) PlayerChips(player ids.PlayerId) (int, bool) {
	p := t.playerFor(player)
	if p == nil {
		return 0, false
	}
	return p.Chips, true
}

// Snapshot builds the client-facing GameState, hiding the dealer's hole
// card while phase is player-turn.
func (t *Table) Snapshot(message string) GameState {
	players := make([]PlayerView, len(t.players))
	for i, p := range t.players {
		players[i] = playerView(p)
	}
	return GameState{
		Phase:   t.phase,
		Dealer:  t.dealerView(),
		Players: players,
		Message: message,
	}
}

func (t *Table) dealerView() PlayerView {
	hv := HandView{HandID: t.dealer.ID, Status: t.dealer.Status}
	if t.phase == PhasePlayerTurn && len(t.dealer.Cards) > 1 {
		hv.Cards = append([]deck.Card(nil), t.dealer.Cards[:1]...)
		hv.HiddenCards = len(t.dealer.Cards) - 1
	} else {
		hv.Cards = append([]deck.Card(nil), t.dealer.Cards...)
		hv.Value = handValue(t.dealer.Cards)
	}
	return PlayerView{PlayerID: ids.DealerId, Name: "Dealer", Hands: []HandView{hv}}
}

func playerView(p *PlayerState) PlayerView {
	hands := make([]HandView, len(p.Hands))
	for i, h := range p.Hands {
		hands[i] = HandView{
			HandID:  h.ID,
			Cards:   append([]deck.Card(nil), h.Cards...),
			Bet:     h.Bet,
			Status:  h.Status,
			Value:   handValue(h.Cards),
			IsSplit: h.IsSplit,
		}
	}
	return PlayerView{PlayerID: p.PlayerID, Name: p.Name, Chips: p.Chips, Hands: hands}
}

func (t *Table) playerFor(player ids.PlayerId) *PlayerState {
	for _, p := range t.players {
		if p.PlayerID == player {
			return p
		}
	}
	return nil
}

func (t *Table) currentHand() (*Hand, bool) {
	if t.current < 0 || t.current >= len(t.turnOrder) {
		return nil, false
	}
	return t.turnOrder[t.current], true
}

func (t *Table) ownedCurrentHand(player ids.PlayerId) (*Hand, error) {
	if t.phase != PhasePlayerTurn {
		return nil, ErrWrongPhase
	}
	h, ok := t.currentHand()
	if !ok {
		return nil, ErrNoActiveHand
	}
	if h.Owner != player {
		return nil, ErrNotYourTurn
	}
	if h.Status != StatusPlaying {
		return nil, ErrHandNotPlaying
	}
	return h, nil
}

func (t *Table) buildTurnOrder() {
	t.turnOrder = t.turnOrder[:0]
	for _, p := range t.players {
		t.turnOrder = append(t.turnOrder, p.Hands...)
	}
	t.current = -1
}

func (t *Table) advanceToNextActive() bool {
	for i := t.current + 1; i < len(t.turnOrder); i++ {
		if t.turnOrder[i].Status == StatusPlaying {
			t.current = i
			return true
		}
	}
	return false
}

func (t *Table) insertAfterCurrent(child *Hand) {
	idx := t.current + 1
	t.turnOrder = append(t.turnOrder, nil)
	copy(t.turnOrder[idx+1:], t.turnOrder[idx:])
	t.turnOrder[idx] = child
}

func (t *Table) allPlayersBust() bool {
	for _, p := range t.players {
		for _, h := range p.Hands {
			if h.Status != StatusBust {
				return false
			}
		}
	}
	return true
}

func (t *Table) hasActiveHand() bool {
	for _, h := range t.turnOrder {
		if h.Status == StatusPlaying {
			return true
		}
	}
	return false
}

func settleHandAfterDraw(h *Hand) {
	v := handValue(h.Cards)
	switch {
	case v > 21:
		h.Status = StatusBust
	case v == 21:
		h.Status = StatusStay
	default:
		h.Status = StatusPlaying
	}
}
