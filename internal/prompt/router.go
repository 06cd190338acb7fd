// Package prompt models "a single outstanding question directed at a
// specific player." At most one prompt is in flight per session; it
// resolves when the targeted session answers, or is cancelled on
// disconnect or an explicit room_leave. There are no timeouts — a player
// may take arbitrarily long to answer, and the router waits.
package prompt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/blackjacktable/server/internal/ids"
	"github.com/blackjacktable/server/internal/protocol"
)

// Kind is a prompt's shape, which determines which fields of Question are
// meaningful.
type Kind string

const (
	KindText    Kind = "text"
	KindSelect  Kind = "select"
	KindConfirm Kind = "confirm"
)

// Question is a server-initiated question directed at one player.
type Question struct {
	Kind        Kind
	Message     string
	Placeholder string
	Default     any
	Options     []string
	Initial     bool
}

// Response is a prompt's outcome: either a value the player supplied, or a
// cancellation (disconnect, room_leave, or no active connection at all).
type Response struct {
	Value     any
	Cancelled bool
}

// Sink is how the router reaches a specific player's socket. The
// connection multiplexer implements it.
type Sink interface {
	SessionForPlayer(player ids.PlayerId) (ids.SessionId, bool)
	Send(session ids.SessionId, msg any) error
}

type pending struct {
	respCh chan Response
}

// Router owns the one-pending-sink-per-session invariant and the
// suspend/resolve machinery for prompt round-trips.
type Router struct {
	mu      sync.Mutex
	pending map[ids.SessionId]*pending

	sink Sink

	logger    *zap.Logger
	logPrompt bool
}

// NewRouter builds a Router that reaches players through sink.
func NewRouter(sink Sink) *Router {
	return &Router{
		pending: make(map[ids.SessionId]*pending),
		sink:    sink,
		logger:  zap.NewNop(),
	}
}

// SetPromptLogging turns on (or off) an Info-level log line for every
// prompt issued and every response received, wired from --prompt-log. Off
// by default since a running game emits one of these per player decision.
func (r *Router) SetPromptLogging(logger *zap.Logger, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger != nil {
		r.logger = logger
	}
	r.logPrompt = enabled
}

// Ask resolves player to a session, sends the question, and suspends the
// calling goroutine until the session answers or the prompt is cancelled.
// If the player has no active connection, it resolves immediately as
// cancelled. Installing a second pending prompt for a session that already
// has one is a programmer error and panics, per the router's invariant.
func (r *Router) Ask(ctx context.Context, player ids.PlayerId, q Question) Response {
	session, ok := r.sink.SessionForPlayer(player)
	if !ok {
		return Response{Cancelled: true}
	}

	ch := make(chan Response, 1)
	r.mu.Lock()
	if _, exists := r.pending[session]; exists {
		r.mu.Unlock()
		panic("prompt: a second prompt was installed for a session with one already pending")
	}
	r.pending[session] = &pending{respCh: ch}
	logPrompt, logger := r.logPrompt, r.logger
	r.mu.Unlock()

	if logPrompt {
		logger.Info("prompt issued", zap.String("player", string(player)), zap.String("kind", string(q.Kind)), zap.String("message", q.Message))
	}

	if err := r.sink.Send(session, toPromptMsg(q)); err != nil {
		r.clear(session)
		return Response{Cancelled: true}
	}

	var resp Response
	select {
	case resp = <-ch:
	case <-ctx.Done():
		r.clear(session)
		resp = Response{Cancelled: true}
	}

	if logPrompt {
		logger.Info("prompt resolved", zap.String("player", string(player)), zap.Bool("cancelled", resp.Cancelled), zap.Any("value", resp.Value))
	}
	return resp
}

// Respond delivers a player's answer to the pending prompt on session, if
// any. It reports whether a pending prompt was actually resolved.
func (r *Router) Respond(session ids.SessionId, value any) bool {
	return r.resolve(session, Response{Value: value})
}

// Cancel cancels the pending prompt on session, if any — called on socket
// close or on an explicit room_leave while a question is outstanding.
func (r *Router) Cancel(session ids.SessionId) bool {
	return r.resolve(session, Response{Cancelled: true})
}

func (r *Router) resolve(session ids.SessionId, resp Response) bool {
	r.mu.Lock()
	p, ok := r.pending[session]
	if ok {
		delete(r.pending, session)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.respCh <- resp
	return true
}

func (r *Router) clear(session ids.SessionId) {
	r.mu.Lock()
	delete(r.pending, session)
	r.mu.Unlock()
}

// HasPending reports whether session currently has a prompt in flight.
func (r *Router) HasPending(session ids.SessionId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[session]
	return ok
}

func toPromptMsg(q Question) protocol.PromptMsg {
	msg := protocol.PromptMsg{
		Type:        "prompt",
		PromptType:  string(q.Kind),
		Message:     q.Message,
		Placeholder: q.Placeholder,
		Default:     q.Default,
		Options:     q.Options,
	}
	if q.Kind == KindConfirm {
		initial := q.Initial
		msg.Initial = &initial
	}
	return msg
}
