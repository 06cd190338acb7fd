// Package ids mints the opaque typed identifiers used throughout the
// server and normalizes room codes entered by clients.
package ids

import (
	"crypto/rand"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// PlayerId identifies a player for the life of one session. A fresh one is
// minted on every identify; the dealer uses the reserved DealerId sentinel
// instead of a minted value.
type PlayerId string

// SessionId identifies one client connection, from accept to close.
type SessionId string

// RoomId is the six-character, case-insensitive-on-input room code.
type RoomId string

// HandId distinguishes a primary hand from a split hand produced from it.
type HandId string

// DealerId is the reserved PlayerId used for the dealer's seat. It can never
// be minted by NewPlayerId and is rejected as a display name at identify.
const DealerId PlayerId = "dealer"

// NewPlayerId mints a fresh PlayerId.
func NewPlayerId() PlayerId {
	return PlayerId(uuid.NewString())
}

// NewSessionId mints a fresh SessionId.
func NewSessionId() SessionId {
	return SessionId(uuid.NewString())
}

// NewHandId mints a fresh HandId.
func NewHandId() HandId {
	return HandId(uuid.NewString())
}

// RoomCodeAlphabet omits 0, 1, I, J and O to avoid characters that are easy
// to confuse when a room code is read aloud or typed by hand.
const RoomCodeAlphabet = "23456789ABCDEFGHKLMNPQRSTUVWXYZ"

// RoomCodeLength is the fixed width of a room code.
const RoomCodeLength = 6

var roomCodePattern = regexp.MustCompile(`^[` + RoomCodeAlphabet + `]{6}$`)

// ErrInvalidRoomCode is returned by NormalizeRoomId when the input, after
// trimming and upper-casing, does not match the room code alphabet.
var ErrInvalidRoomCode = errors.New("ids: invalid room code")

// NewRoomId generates a random room code. It does not check for collisions
// against any existing room table; callers own collision retry (see
// room.Manager.mintRoomId).
func NewRoomId() (RoomId, error) {
	buf := make([]byte, RoomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, RoomCodeLength)
	for i, b := range buf {
		out[i] = RoomCodeAlphabet[int(b)%len(RoomCodeAlphabet)]
	}
	return RoomId(out), nil
}

// NormalizeRoomId trims surrounding whitespace, upper-cases, and validates a
// client-supplied room code against the alphabet. Normalizing an
// already-normalized code is the identity.
func NormalizeRoomId(raw string) (RoomId, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if !roomCodePattern.MatchString(trimmed) {
		return "", ErrInvalidRoomCode
	}
	return RoomId(trimmed), nil
}
