package blackjack

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackjacktable/server/internal/deck"
	"github.com/blackjacktable/server/internal/ids"
)

// oneRankShoe builds a shoe that only ever draws the given rank/value, so
// tests can script exact draws without depending on shuffle output.
func oneRankShoe(rank deck.Rank, value int, count int) *deck.Shoe {
	cfg := deck.Config{
		Suits: []deck.Suit{deck.Spades},
		Ranks: []deck.RankValue{{Rank: rank, Value: value}},
		Packs: count,
	}
	return deck.New(cfg)
}

func newTestTable(players ...*PlayerState) *Table {
	return &Table{
		cfg:     Config{Deck: deck.StandardConfig(1), MinBet: 1, MaxBet: 1000},
		shoe:    deck.New(deck.StandardConfig(6)),
		rng:     rand.New(rand.NewSource(1)),
		dealer:  &Hand{ID: ids.NewHandId(), Owner: ids.DealerId},
		players: players,
	}
}

func TestHandValueDemotesAceOnBust(t *testing.T) {
	hand := []deck.Card{
		{Rank: deck.Ace, Value: 11},
		{Rank: deck.Rank("7"), Value: 7},
	}
	assert.Equal(t, 18, handValue(hand))

	hand = append(hand, deck.Card{Rank: deck.Rank("5"), Value: 5})
	assert.Equal(t, 13, handValue(hand))

	hand = append(hand, deck.Card{Rank: deck.Rank("9"), Value: 9})
	assert.Equal(t, 22, handValue(hand), "ace already demoted to 1 still busts once the rest totals past 21")
}

func TestIsNaturalBlackjack(t *testing.T) {
	assert.True(t, isNaturalBlackjack([]deck.Card{
		{Rank: deck.Ace, Value: 11}, {Rank: deck.King, Value: 10},
	}))
	assert.False(t, isNaturalBlackjack([]deck.Card{
		{Rank: deck.Ace, Value: 11}, {Rank: deck.King, Value: 10}, {Rank: deck.Rank("2"), Value: 2},
	}))
	assert.False(t, isNaturalBlackjack([]deck.Card{
		{Rank: deck.Rank("10"), Value: 10}, {Rank: deck.Rank("9"), Value: 9},
	}))
}

func TestPayoutForNaturalBlackjackPaysThreeToTwo(t *testing.T) {
	h := &Hand{Bet: 100, Status: StatusBlackjack, Cards: []deck.Card{
		{Rank: deck.Ace, Value: 11}, {Rank: deck.King, Value: 10},
	}}
	assert.Equal(t, 250, payoutFor(h, false, false, 19))
}

func TestPayoutForBothNaturalIsPush(t *testing.T) {
	h := &Hand{Bet: 100, Status: StatusBlackjack}
	assert.Equal(t, 100, payoutFor(h, true, false, 21))
}

func TestPayoutForSplitBlackjackPaysEven(t *testing.T) {
	h := &Hand{Bet: 100, Status: StatusBlackjack, IsSplit: true, Cards: []deck.Card{
		{Rank: deck.Ace, Value: 11}, {Rank: deck.King, Value: 10},
	}}
	assert.Equal(t, 200, payoutFor(h, false, false, 19))
}

func TestPayoutForBustIsZeroRegardless(t *testing.T) {
	h := &Hand{Bet: 50, Status: StatusBust}
	assert.Equal(t, 0, payoutFor(h, false, true, 0))
}

func TestPayoutForDealerBustDoublesNonBustHands(t *testing.T) {
	h := &Hand{Bet: 50, Status: StatusStay, Cards: []deck.Card{
		{Rank: deck.Rank("10"), Value: 10}, {Rank: deck.Rank("9"), Value: 9},
	}}
	assert.Equal(t, 100, payoutFor(h, false, true, 0))
}

func TestPayoutForComparison(t *testing.T) {
	higher := &Hand{Bet: 20, Status: StatusStay, Cards: []deck.Card{
		{Rank: deck.Rank("10"), Value: 10}, {Rank: deck.Rank("9"), Value: 9},
	}}
	assert.Equal(t, 40, payoutFor(higher, false, false, 18))

	tie := &Hand{Bet: 20, Status: StatusStay, Cards: []deck.Card{
		{Rank: deck.Rank("10"), Value: 10}, {Rank: deck.Rank("8"), Value: 8},
	}}
	assert.Equal(t, 20, payoutFor(tie, false, false, 18))

	lower := &Hand{Bet: 20, Status: StatusStay, Cards: []deck.Card{
		{Rank: deck.Rank("10"), Value: 10}, {Rank: deck.Rank("6"), Value: 6},
	}}
	assert.Equal(t, 0, payoutFor(lower, false, false, 18))
}

func TestDealerPlayAllBustShortCircuits(t *testing.T) {
	tbl := newTestTable(
		&PlayerState{PlayerID: "p1", Hands: []*Hand{{ID: "h1", Owner: "p1", Status: StatusBust}}},
		&PlayerState{PlayerID: "p2", Hands: []*Hand{{ID: "h2", Owner: "p2", Status: StatusBust}}},
	)
	tbl.phase = PhaseDealerTurn
	tbl.dealer.Cards = []deck.Card{{Rank: deck.Rank("10"), Value: 10}, {Rank: deck.Rank("6"), Value: 6}}

	require.NoError(t, tbl.DealerPlay())
	assert.Equal(t, StatusStay, tbl.dealer.Status)
	assert.Equal(t, 2, len(tbl.dealer.Cards), "dealer must not draw when every player already busted")
	assert.Equal(t, PhaseRoundOver, tbl.phase)

	results := tbl.ResolveRound()
	for _, r := range results {
		assert.Equal(t, 0, r.Payout)
	}
}

func TestRemovePlayerDuringTurnAdvancesToDealerWhenEmptied(t *testing.T) {
	tbl := newTestTable(
		&PlayerState{PlayerID: "p1", Chips: 900, Hands: []*Hand{{ID: "h1", Owner: "p1", Status: StatusPlaying}}},
	)
	tbl.phase = PhasePlayerTurn
	tbl.turnOrder = []*Hand{tbl.players[0].Hands[0]}
	tbl.current = 0

	remaining := tbl.RemovePlayer("p1")
	assert.False(t, remaining)
	assert.Equal(t, PhaseDealerTurn, tbl.phase)
	assert.Equal(t, 0, tbl.PlayerCount())
}

func TestSplitInsertsChildAfterParentAndDealsOneCardEach(t *testing.T) {
	tbl := newTestTable(&PlayerState{
		PlayerID: "p1", Chips: 1000,
		Hands: []*Hand{{
			ID: "h1", Owner: "p1", Status: StatusPlaying, Bet: 100,
			Cards: []deck.Card{
				{Rank: deck.Rank("8"), Value: 8},
				{Rank: deck.Rank("8"), Value: 8},
			},
		}},
	})
	tbl.phase = PhasePlayerTurn
	tbl.turnOrder = []*Hand{tbl.players[0].Hands[0]}
	tbl.current = 0
	tbl.shoe = oneRankShoe(deck.Rank("3"), 3, 4)

	require.True(t, tbl.CanSplit("p1"))
	require.NoError(t, tbl.Split("p1"))

	require.Len(t, tbl.players[0].Hands, 2)
	parent := tbl.players[0].Hands[0]
	child := tbl.players[0].Hands[1]

	assert.Equal(t, 100, parent.Bet)
	assert.Equal(t, 100, child.Bet)
	assert.True(t, child.IsSplit)
	assert.Equal(t, 900, tbl.players[0].Chips, "split hand's bet debited from chips")
	assert.Len(t, parent.Cards, 2)
	assert.Len(t, child.Cards, 2)

	require.Len(t, tbl.turnOrder, 2)
	assert.Same(t, parent, tbl.turnOrder[0])
	assert.Same(t, child, tbl.turnOrder[1])
	assert.Equal(t, 0, tbl.current, "split leaves current pointing at the parent hand")
}

func TestHitFromEmptyShoeReportsShoeExhausted(t *testing.T) {
	tbl := newTestTable(&PlayerState{
		PlayerID: "p1", Chips: 100,
		Hands: []*Hand{{ID: "h1", Owner: "p1", Status: StatusPlaying}},
	})
	tbl.phase = PhasePlayerTurn
	tbl.turnOrder = []*Hand{tbl.players[0].Hands[0]}
	tbl.current = 0
	tbl.shoe = oneRankShoe(deck.Rank("3"), 3, 0)

	err := tbl.Hit("p1")
	assert.ErrorIs(t, err, ErrShoeExhausted)
}
