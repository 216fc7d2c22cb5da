package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxRejectionDetailLength caps the free-text detail of a rejection, in characters.
const MaxRejectionDetailLength = 500

// RejectionReasonCode is the structured reason a party declines a match.
type RejectionReasonCode string

const (
	ReasonNotMyItem          RejectionReasonCode = "not_my_item"
	ReasonWrongCondition     RejectionReasonCode = "wrong_condition"
	ReasonAlreadyFound       RejectionReasonCode = "already_found"
	ReasonWrongLocation      RejectionReasonCode = "wrong_location"
	ReasonIncorrectDetails   RejectionReasonCode = "incorrect_details"
	ReasonItemDamaged        RejectionReasonCode = "item_damaged"
	ReasonSuspiciousBehavior RejectionReasonCode = "suspicious_behavior"
	ReasonOther              RejectionReasonCode = "other"
)

// RejectionReasonCodes lists every accepted reason code.
func RejectionReasonCodes() []RejectionReasonCode {
	return []RejectionReasonCode{
		ReasonNotMyItem,
		ReasonWrongCondition,
		ReasonAlreadyFound,
		ReasonWrongLocation,
		ReasonIncorrectDetails,
		ReasonItemDamaged,
		ReasonSuspiciousBehavior,
		ReasonOther,
	}
}

// ParseRejectionReasonCode validates a reason code. Matching is exact.
func ParseRejectionReasonCode(value string) (RejectionReasonCode, error) {
	for _, code := range RejectionReasonCodes() {
		if string(code) == value {
			return code, nil
		}
	}
	return "", ErrUnknownReasonCode
}

// RejectionRecord is the structured feedback attached to a rejected match.
type RejectionRecord struct {
	ReasonCode       RejectionReasonCode `json:"reason_code"`
	DetailText       string              `json:"detail_text,omitempty"`
	RejectedByUserID string              `json:"rejected_by_user_id"`
	RejectedAt       time.Time           `json:"rejected_at"`
}

// NewRejectionRecord validates the inputs of a rejection.
func NewRejectionRecord(reasonCode, detailText, actingUserID string, at time.Time) (RejectionRecord, error) {
	code, err := ParseRejectionReasonCode(reasonCode)
	if err != nil {
		return RejectionRecord{}, err
	}
	if utf8.RuneCountInString(detailText) > MaxRejectionDetailLength {
		return RejectionRecord{}, ErrDetailTooLong
	}
	if strings.TrimSpace(actingUserID) == "" {
		return RejectionRecord{}, ErrMissingActor
	}

	return RejectionRecord{
		ReasonCode:       code,
		DetailText:       detailText,
		RejectedByUserID: actingUserID,
		RejectedAt:       at.UTC(),
	}, nil
}

// DismissalReason is the fixed system reason carried by a dismissed match.
type DismissalReason string

// DismissalVerificationFailed marks a match dismissed after exhausting ownership attempts.
const DismissalVerificationFailed DismissalReason = "verification_failed"

// Dismissal records a system-initiated termination.
type Dismissal struct {
	Reason      DismissalReason `json:"reason"`
	DismissedAt time.Time       `json:"dismissed_at"`
}
