package room

import (
	"github.com/blackjacktable/server/internal/deck"
	"github.com/blackjacktable/server/internal/game"
	"github.com/blackjacktable/server/internal/ids"
)

// roomAdapter is the game.RoomSink a running driver uses to reach its room.
// BroadcastToRoom is routed through the coordinator's event channel so the
// member list it fans out to is always read by the one goroutine that owns
// it; SendToPlayer bypasses the coordinator since it only needs the sink's
// own (already concurrency-safe) session lookup, not room membership.
type roomAdapter struct {
	mgr    *Manager
	roomID ids.RoomId
}

var _ game.RoomSink = (*roomAdapter)(nil)

func (a *roomAdapter) BroadcastToRoom(msg any) {
	a.mgr.enqueue(broadcastToRoomEvent{roomID: a.roomID, msg: msg})
}

func (a *roomAdapter) SendToPlayer(player ids.PlayerId, msg any) {
	if session, ok := a.mgr.sink.SessionForPlayer(player); ok {
		_ = a.mgr.sink.Send(session, msg)
	}
}

// deckConfig builds a blackjack-standard shoe configuration for packs decks.
func deckConfig(packs int) deck.Config {
	if packs <= 0 {
		packs = defaultDeckCount
	}
	return deck.StandardConfig(packs)
}
