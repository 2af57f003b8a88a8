package game

import (
	"errors"
	"fmt"
)

var (
	ErrActiveRoundExists    = errors.New("an active round already exists")
	ErrSeedAlreadyCarried   = errors.New("round seed was already carried into a later round")
	ErrInvalidAnswerWord    = errors.New("answer word is not in the answer set")
	ErrRoundNotFound        = errors.New("round not found")
	ErrAlreadyResolved      = errors.New("round already resolved")
	ErrRoundClosed          = errors.New("no open round")
	ErrRoundAlreadyResolved = errors.New("round was won by another player")
	ErrInvalidPlayer        = errors.New("player id is required")
	ErrRoundNotResolved     = errors.New("round is not resolved")
	ErrUnknownPlayer        = errors.New("unknown player")

	// ErrDuplicateGuess is returned by stores when the eliminated-word index
	// rejects an insert.
	ErrDuplicateGuess = errors.New("word already recorded in round")
)

type InvalidReason string

const (
	ReasonLength          InvalidReason = "length"
	ReasonAlphabetic      InvalidReason = "alphabetic"
	ReasonNotInDictionary InvalidReason = "not_in_dictionary"
)

type InvalidWordError struct {
	Word   string
	Reason InvalidReason
}

func (e *InvalidWordError) Error() string {
	return fmt.Sprintf("invalid word %q: %s", e.Word, e.Reason)
}

type AlreadyGuessedError struct {
	Word string
}

func (e *AlreadyGuessedError) Error() string {
	return fmt.Sprintf("%s has already been guessed this round", e.Word)
}

type IntegrityKind string

const (
	IntegrityCommitment IntegrityKind = "commitment_mismatch"
	IntegrityPayoutSum  IntegrityKind = "payout_sum_mismatch"
	IntegrityCatalog    IntegrityKind = "catalog"
)

// IntegrityError means stored state or a computation can not be trusted.
// It aborts the operation and is never returned as a normal result.
type IntegrityError struct {
	Kind    IntegrityKind
	RoundID int64
	Detail  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation (%s) in round %d: %s", e.Kind, e.RoundID, e.Detail)
}

// IsValidation reports caller mistakes that are reported, never logged as
// incidents.
func IsValidation(err error) bool {
	var iw *InvalidWordError
	var ag *AlreadyGuessedError
	return errors.As(err, &iw) || errors.As(err, &ag)
}

// IsConflict reports expected races under load.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRoundAlreadyResolved) ||
		errors.Is(err, ErrActiveRoundExists) ||
		errors.Is(err, ErrSeedAlreadyCarried) ||
		errors.Is(err, ErrRoundClosed) ||
		errors.Is(err, ErrAlreadyResolved)
}
