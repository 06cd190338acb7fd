// Package game is the game registry and the Blackjack game driver: the
// long-running procedure that plays one room's round loop using the
// blackjack rules engine and the prompt router, publishing snapshots
// through a room-supplied sink.
package game

import (
	"context"
	"fmt"
	"sync"

	"github.com/blackjacktable/server/internal/deck"
	"github.com/blackjacktable/server/internal/ids"
	"github.com/blackjacktable/server/internal/prompt"
)

// Meta describes one registered game for the lobby's game_list.
type Meta struct {
	Type        string
	Name        string
	Category    string
	Description string
	MinPlayers  int
	MaxPlayers  int
	Icon        string
}

// Seat is one player as handed to a freshly created driver: their identity,
// display name, and starting chip count.
type Seat struct {
	PlayerID ids.PlayerId
	Name     string
	Chips    int
}

// Config carries the per-room game settings resolved by the room manager
// from room_create (or its defaults).
type Config struct {
	Deck   deck.Config
	MinBet int
	MaxBet int
}

// RoomSink is the narrow room-fanout capability a driver needs: broadcast
// one message to every member of the room it was created for, or reach one
// player's socket alone (used for validation errors; prompts themselves
// travel through the prompt router instead).
type RoomSink interface {
	BroadcastToRoom(msg any)
	SendToPlayer(player ids.PlayerId, msg any)
}

// Driver is a running game instance bound to one room.
type Driver interface {
	// Run plays the game to completion. It returns when the game ends,
	// normally or via cancellation of ctx.
	Run(ctx context.Context)

	// NotifyPlayerLeft tells the driver a seated player departed the room.
	// Non-blocking; the driver applies the mutation at its next safe point.
	NotifyPlayerLeft(player ids.PlayerId)

	// NotifyHostChanged tells the driver who the room's current host is,
	// for round-over prompts. Non-blocking.
	NotifyHostChanged(host ids.PlayerId)
}

// Factory mints Drivers for one game type and advertises its metadata.
type Factory interface {
	Meta() Meta
	Create(sink RoomSink, prompts *prompt.Router, seats []Seat, cfg Config, host ids.PlayerId) Driver
}

// Registry is the process-wide game-type → factory mapping. It is
// populated once at startup by each game module registering itself;
// nothing in the registry itself runs at init time.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// ErrAlreadyRegistered is returned by Register for a duplicate type tag.
var ErrAlreadyRegistered = fmt.Errorf("game: type already registered")

// Register adds factory under its own Meta().Type tag. Registering the same
// tag twice is rejected.
func (r *Registry) Register(factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tag := factory.Meta().Type
	if _, exists := r.factories[tag]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, tag)
	}
	r.factories[tag] = factory
	return nil
}

// GetFactory looks up the factory registered for tag.
func (r *Registry) GetFactory(tag string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[tag]
	return f, ok
}

// GetAvailableGames enumerates every registered game's metadata.
func (r *Registry) GetAvailableGames() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f.Meta())
	}
	return out
}
