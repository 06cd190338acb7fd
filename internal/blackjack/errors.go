package blackjack

import "errors"

var (
	ErrWrongPhase        = errors.New("blackjack: wrong phase for this action")
	ErrNotSeated         = errors.New("blackjack: player is not seated at this table")
	ErrInvalidBet        = errors.New("blackjack: bet must be greater than zero, no more than available chips, and within the table's bet limits")
	ErrNoActiveHand      = errors.New("blackjack: no active hand for this turn")
	ErrNotYourTurn       = errors.New("blackjack: it is not this player's turn")
	ErrHandNotPlaying    = errors.New("blackjack: hand is not in playing status")
	ErrCannotDouble      = errors.New("blackjack: hand is not eligible to double down")
	ErrCannotSplit       = errors.New("blackjack: hand is not eligible to split")
	ErrInsufficientChips = errors.New("blackjack: insufficient chips")
	ErrShoeExhausted     = errors.New("blackjack: drew from an empty shoe")
)
