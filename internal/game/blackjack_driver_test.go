package game_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blackjacktable/server/internal/deck"
	"github.com/blackjacktable/server/internal/game"
	"github.com/blackjacktable/server/internal/ids"
	"github.com/blackjacktable/server/internal/prompt"
	"github.com/blackjacktable/server/internal/protocol"
)

// recordingSink captures every broadcast and per-player send, and also
// implements prompt.Sink so the same fake backs both the driver's RoomSink
// and the prompt.Router it shares with it.
type recordingSink struct {
	mu         sync.Mutex
	broadcasts []any
	toPlayer   map[ids.PlayerId][]any
	sessions   map[ids.PlayerId]ids.SessionId
}

func newRecordingSink(players ...ids.PlayerId) *recordingSink {
	s := &recordingSink{
		toPlayer: make(map[ids.PlayerId][]any),
		sessions: make(map[ids.PlayerId]ids.SessionId),
	}
	for _, p := range players {
		s.sessions[p] = ids.NewSessionId()
	}
	return s
}

func (s *recordingSink) BroadcastToRoom(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, msg)
}

func (s *recordingSink) SendToPlayer(player ids.PlayerId, msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toPlayer[player] = append(s.toPlayer[player], msg)
}

func (s *recordingSink) SessionForPlayer(player ids.PlayerId) (ids.SessionId, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[player]
	return sess, ok
}

func (s *recordingSink) Send(session ids.SessionId, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, sess := range s.sessions {
		if sess == session {
			s.toPlayer[p] = append(s.toPlayer[p], msg)
			return nil
		}
	}
	return nil
}

func (s *recordingSink) lastPromptFor(t *testing.T, router *prompt.Router, player ids.PlayerId) protocol.PromptMsg {
	t.Helper()
	require.Eventually(t, func() bool {
		sess, ok := s.SessionForPlayer(player)
		return ok && router.HasPending(sess)
	}, 2*time.Second, 5*time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.toPlayer[player]
	require.NotEmpty(t, msgs)
	pm, ok := msgs[len(msgs)-1].(protocol.PromptMsg)
	require.True(t, ok, "last message to %s was not a prompt: %#v", player, msgs[len(msgs)-1])
	return pm
}

func (s *recordingSink) respond(t *testing.T, router *prompt.Router, player ids.PlayerId, value any) {
	t.Helper()
	sess, ok := s.SessionForPlayer(player)
	require.True(t, ok)
	require.True(t, router.Respond(sess, value))
}

func smallConfig() game.Config {
	return game.Config{Deck: deck.StandardConfig(2), MinBet: 5, MaxBet: 500}
}

func TestBlackjackDriverPlaysOneRoundThenEndsOnHostQuit(t *testing.T) {
	alice := ids.NewPlayerId()
	bob := ids.NewPlayerId()

	sink := newRecordingSink(alice, bob)
	router := prompt.NewRouter(sink)
	factory := game.NewBlackjackFactory(zap.NewNop())

	seats := []game.Seat{
		{PlayerID: alice, Name: "Alice", Chips: 1000},
		{PlayerID: bob, Name: "Bob", Chips: 1000},
	}

	driver := factory.Create(sink, router, seats, smallConfig(), alice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		driver.Run(ctx)
		close(done)
	}()

	// Betting: both players bet 50.
	sink.lastPromptFor(t, router, alice)
	sink.respond(t, router, alice, "50")
	sink.lastPromptFor(t, router, bob)
	sink.respond(t, router, bob, "50")

	// Player turn: both stand immediately, whichever goes first.
	for i := 0; i < 2; i++ {
		var turn ids.PlayerId
		for _, p := range []ids.PlayerId{alice, bob} {
			sess, ok := sink.SessionForPlayer(p)
			if ok && router.HasPending(sess) {
				turn = p
				break
			}
		}
		if turn == "" {
			require.Eventually(t, func() bool {
				for _, p := range []ids.PlayerId{alice, bob} {
					sess, ok := sink.SessionForPlayer(p)
					if ok && router.HasPending(sess) {
						turn = p
						return true
					}
				}
				return false
			}, 2*time.Second, 5*time.Millisecond)
		}
		sink.respond(t, router, turn, "stand")
	}

	// Round-over: host (Alice) is asked to quit.
	sink.lastPromptFor(t, router, alice)
	sink.respond(t, router, alice, "quit")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("driver never finished")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.NotEmpty(t, sink.broadcasts)
	last := sink.broadcasts[len(sink.broadcasts)-1]
	outro, ok := last.(protocol.Outro)
	require.True(t, ok, "expected the final broadcast to be an outro, got %#v", last)
	assert.NotEmpty(t, outro.Message)
}

func TestBlackjackDriverSkipsDisappearedBettorAndContinues(t *testing.T) {
	alice := ids.NewPlayerId()
	bob := ids.NewPlayerId()

	sink := newRecordingSink(alice, bob)
	router := prompt.NewRouter(sink)
	factory := game.NewBlackjackFactory(zap.NewNop())

	seats := []game.Seat{
		{PlayerID: alice, Name: "Alice", Chips: 1000},
		{PlayerID: bob, Name: "Bob", Chips: 1000},
	}
	driver := factory.Create(sink, router, seats, smallConfig(), bob)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		driver.Run(ctx)
		close(done)
	}()

	sink.lastPromptFor(t, router, alice)
	aliceSession, _ := sink.SessionForPlayer(alice)

	// Alice disappears: the room manager would call NotifyPlayerLeft then
	// cancel her pending prompt, in that order.
	driver.NotifyPlayerLeft(alice)
	require.True(t, router.Cancel(aliceSession))

	// Bob is still prompted for his bet and the game continues without Alice.
	sink.lastPromptFor(t, router, bob)
	sink.respond(t, router, bob, "20")

	sink.respond(t, router, bob, "stand")

	sink.lastPromptFor(t, router, bob) // round-over host prompt (Bob, since Alice is gone and Bob was host)
	sink.respond(t, router, bob, "quit")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("driver never finished")
	}
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	reg := game.NewRegistry()
	f := game.NewBlackjackFactory(zap.NewNop())
	require.NoError(t, reg.Register(f))
	err := reg.Register(f)
	assert.ErrorIs(t, err, game.ErrAlreadyRegistered)

	got, ok := reg.GetFactory("blackjack")
	require.True(t, ok)
	assert.Equal(t, "Blackjack", got.Meta().Name)

	games := reg.GetAvailableGames()
	require.Len(t, games, 1)
	assert.Equal(t, "blackjack", games[0].Type)
}
