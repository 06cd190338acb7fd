// Package protocol encodes and decodes the small JSON message vocabulary
// exchanged with clients. The decoder tolerates either text or binary
// frames (callers pass the raw payload bytes either way) and strictly
// rejects non-JSON. Every message carries a `type` string except prompt
// responses, which carry none — an inbound frame with an unrecognized or
// absent `type` is treated as a prompt response rather than an error.
package protocol

import (
	"encoding/json"
	"fmt"
)

// InboundKind discriminates a decoded inbound message.
type InboundKind string

const (
	KindIdentify    InboundKind = "identify"
	KindRoomList    InboundKind = "room_list"
	KindGameList    InboundKind = "game_list"
	KindRoomCreate  InboundKind = "room_create"
	KindRoomJoin    InboundKind = "room_join"
	KindRoomLeave   InboundKind = "room_leave"
	KindRoomReady   InboundKind = "room_ready"
	KindRoomStart   InboundKind = "room_start"
	KindPromptReply InboundKind = "prompt_reply"
)

// IdentifyPayload carries the client's self-declared display name.
type IdentifyPayload struct {
	Name string
}

// RoomCreatePayload carries optional room settings; nil pointers mean "use
// the default."
type RoomCreatePayload struct {
	Name       string
	IsPrivate  *bool
	MaxPlayers *int
	MinBet     *int
	MaxBet     *int
	DeckCount  *int
	GameType   string
}

// RoomJoinPayload carries the room code as typed by the client, not yet
// normalized.
type RoomJoinPayload struct {
	RoomId string
}

// RoomReadyPayload carries the new readiness flag.
type RoomReadyPayload struct {
	Ready bool
}

// PromptReplyPayload carries a prompt answer or a cancellation.
type PromptReplyPayload struct {
	Value  any
	Cancel bool
}

// Inbound is a decoded client frame. Exactly one of the payload pointers is
// non-nil, matching Kind (RoomList/GameList/RoomLeave/RoomStart carry none).
type Inbound struct {
	Kind        InboundKind
	Identify    *IdentifyPayload
	RoomCreate  *RoomCreatePayload
	RoomJoin    *RoomJoinPayload
	RoomReady   *RoomReadyPayload
	PromptReply *PromptReplyPayload
}

// wireInbound is the union of every inbound field shape. Unrecognized
// fields in a given message type are simply left at their zero value.
type wireInbound struct {
	Type string `json:"type"`

	Name string `json:"name,omitempty"`

	IsPrivate  *bool  `json:"isPrivate,omitempty"`
	MaxPlayers *int   `json:"maxPlayers,omitempty"`
	MinBet     *int   `json:"minBet,omitempty"`
	MaxBet     *int   `json:"maxBet,omitempty"`
	DeckCount  *int   `json:"deckCount,omitempty"`
	GameType   string `json:"gameType,omitempty"`

	RoomId string `json:"roomId,omitempty"`

	Ready *bool `json:"ready,omitempty"`

	Value  any  `json:"value,omitempty"`
	Cancel bool `json:"cancel,omitempty"`
}

// DecodeInbound parses one client frame. It rejects non-JSON outright; an
// unrecognized or missing `type` decodes as a prompt reply rather than an
// error, per the vocabulary's design (prompt responses carry no `type`).
func DecodeInbound(raw []byte) (Inbound, error) {
	var w wireInbound
	if err := json.Unmarshal(raw, &w); err != nil {
		return Inbound{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}

	switch w.Type {
	case string(KindIdentify):
		return Inbound{Kind: KindIdentify, Identify: &IdentifyPayload{Name: w.Name}}, nil
	case string(KindRoomList):
		return Inbound{Kind: KindRoomList}, nil
	case string(KindGameList):
		return Inbound{Kind: KindGameList}, nil
	case string(KindRoomCreate):
		return Inbound{Kind: KindRoomCreate, RoomCreate: &RoomCreatePayload{
			Name:       w.Name,
			IsPrivate:  w.IsPrivate,
			MaxPlayers: w.MaxPlayers,
			MinBet:     w.MinBet,
			MaxBet:     w.MaxBet,
			DeckCount:  w.DeckCount,
			GameType:   w.GameType,
		}}, nil
	case string(KindRoomJoin):
		return Inbound{Kind: KindRoomJoin, RoomJoin: &RoomJoinPayload{RoomId: w.RoomId}}, nil
	case string(KindRoomLeave):
		return Inbound{Kind: KindRoomLeave}, nil
	case string(KindRoomReady):
		return Inbound{Kind: KindRoomReady, RoomReady: &RoomReadyPayload{
			Ready: w.Ready != nil && *w.Ready,
		}}, nil
	case string(KindRoomStart):
		return Inbound{Kind: KindRoomStart}, nil
	default:
		return Inbound{Kind: KindPromptReply, PromptReply: &PromptReplyPayload{
			Value:  w.Value,
			Cancel: w.Cancel,
		}}, nil
	}
}
