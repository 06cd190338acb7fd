// Package room is the room manager: lobby membership, readiness, host
// succession, and per-room game lifecycle. It owns every Room and spawns
// one Game Driver per room when its host starts play, fanning driver
// output back out through the connection multiplexer.
package room

import (
	"context"

	"github.com/blackjacktable/server/internal/game"
	"github.com/blackjacktable/server/internal/ids"
)

// Member is one seated player within a Room.
type Member struct {
	PlayerID  ids.PlayerId
	SessionID ids.SessionId
	Name      string
	IsReady   bool
	Chips     int
}

// Room is a named container of up to MaxPlayers members that is either idle
// or has a running game. Members preserves join order throughout the
// room's life, which is what seat order and turn order derive from.
type Room struct {
	ID         ids.RoomId
	Name       string
	GameType   string
	IsPrivate  bool
	MaxPlayers int
	MinBet     int
	MaxBet     int
	DeckCount  int
	IsPlaying  bool
	HostID     ids.PlayerId
	Members    []*Member

	driver game.Driver
	cancel context.CancelFunc
}

func (r *Room) memberByPlayer(player ids.PlayerId) *Member {
	for _, m := range r.Members {
		if m.PlayerID == player {
			return m
		}
	}
	return nil
}

func (r *Room) removeMember(player ids.PlayerId) {
	for i, m := range r.Members {
		if m.PlayerID == player {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return
		}
	}
}

func (r *Room) sessions() []ids.SessionId {
	out := make([]ids.SessionId, len(r.Members))
	for i, m := range r.Members {
		out[i] = m.SessionID
	}
	return out
}

func (r *Room) allReady() bool {
	if len(r.Members) == 0 {
		return false
	}
	for _, m := range r.Members {
		if !m.IsReady {
			return false
		}
	}
	return true
}
