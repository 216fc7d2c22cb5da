package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every specific workflow error wraps exactly one of these so
// callers can branch with errors.Is on either the class or the specific error.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidState        = errors.New("invalid state")
	ErrPrecondition        = errors.New("precondition failed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

var (
	ErrEmptyAnswer            = fmt.Errorf("%w: answer must not be empty", ErrValidation)
	ErrUnknownQuestion        = fmt.Errorf("%w: question is not part of the challenge", ErrValidation)
	ErrQuestionNotPending     = fmt.Errorf("%w: question was not the one presented", ErrValidation)
	ErrUnknownReasonCode      = fmt.Errorf("%w: unknown rejection reason code", ErrValidation)
	ErrDetailTooLong          = fmt.Errorf("%w: detail text exceeds %d characters", ErrValidation, MaxRejectionDetailLength)
	ErrUnknownHandoverFlag    = fmt.Errorf("%w: unknown handover flag", ErrValidation)
	ErrMissingActor           = fmt.Errorf("%w: acting user is required", ErrValidation)
	ErrNotParticipant         = fmt.Errorf("%w: user is not a party to this match", ErrValidation)
	ErrMissingReportReference = fmt.Errorf("%w: source and target report ids are required", ErrValidation)
	ErrSameReport             = fmt.Errorf("%w: a report cannot be matched with itself", ErrValidation)
	ErrUnknownAttestationMode = fmt.Errorf("%w: unknown handover attestation mode", ErrValidation)

	ErrMatchTerminal         = fmt.Errorf("%w: match is in a terminal state", ErrInvalidState)
	ErrChallengeClosed       = fmt.Errorf("%w: ownership challenge already resolved", ErrInvalidState)
	ErrChallengeExhausted    = fmt.Errorf("%w: no security questions remain", ErrInvalidState)
	ErrNotVerifyingOwnership = fmt.Errorf("%w: match is not verifying ownership", ErrInvalidState)

	ErrChecklistIncomplete     = fmt.Errorf("%w: handover checklist is incomplete", ErrPrecondition)
	ErrOwnershipUnverified     = fmt.Errorf("%w: ownership has not been verified", ErrPrecondition)
	ErrOwnershipPending        = fmt.Errorf("%w: ownership verification still in progress", ErrPrecondition)
	ErrVerificationNotExceeded = fmt.Errorf("%w: verification attempts are not exhausted", ErrPrecondition)
)

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsInvalidState reports whether err belongs to the invalid-state class.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsPrecondition reports whether err belongs to the precondition class.
func IsPrecondition(err error) bool { return errors.Is(err, ErrPrecondition) }

// IsConcurrencyConflict reports whether err signals a stale write or a held match lock.
func IsConcurrencyConflict(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }
