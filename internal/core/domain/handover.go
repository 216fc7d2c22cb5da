package domain

import "strings"

// HandoverFlag names one of the three handover confirmations.
type HandoverFlag string

const (
	FlagIdentityVerified     HandoverFlag = "identity_verified"
	FlagHandoverMethodAgreed HandoverFlag = "handover_method_agreed"
	FlagConditionVerified    HandoverFlag = "condition_verified"
)

// HandoverFlags lists the checklist flags in display order.
func HandoverFlags() []HandoverFlag {
	return []HandoverFlag{FlagIdentityVerified, FlagHandoverMethodAgreed, FlagConditionVerified}
}

// ParseHandoverFlag accepts snake_case or camelCase flag names.
func ParseHandoverFlag(value string) (HandoverFlag, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(value), "_", "")) {
	case "identityverified":
		return FlagIdentityVerified, nil
	case "handovermethodagreed":
		return FlagHandoverMethodAgreed, nil
	case "conditionverified":
		return FlagConditionVerified, nil
	default:
		return "", ErrUnknownHandoverFlag
	}
}

// AttestationMode controls who must attest to each handover flag.
type AttestationMode string

const (
	// AttestationSingleParty lets any participant set any flag on their own.
	AttestationSingleParty AttestationMode = "single_party"
	// AttestationCrossParty requires both the initiator and the target owner to attest each flag.
	AttestationCrossParty AttestationMode = "cross_party"
)

// ParseAttestationMode normalises configuration input, defaulting to single party.
func ParseAttestationMode(value string) (AttestationMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(AttestationSingleParty):
		return AttestationSingleParty, nil
	case string(AttestationCrossParty):
		return AttestationCrossParty, nil
	default:
		return "", ErrUnknownAttestationMode
	}
}

// Party identifies which side of a match attested a flag.
type Party string

const (
	PartyInitiator   Party = "initiator"
	PartyTargetOwner Party = "target_owner"
)

// Attestation records one party vouching for one flag.
type Attestation struct {
	Party Party        `json:"party"`
	Flag  HandoverFlag `json:"flag"`
}

// HandoverChecklistState holds the three confirmations gating a confirmed match.
type HandoverChecklistState struct {
	Mode                 AttestationMode `json:"mode"`
	IdentityVerified     bool            `json:"identity_verified"`
	HandoverMethodAgreed bool            `json:"handover_method_agreed"`
	ConditionVerified    bool            `json:"condition_verified"`
	Attestations         []Attestation   `json:"attestations,omitempty"`
}

// NewHandoverChecklist returns an all-false checklist.
func NewHandoverChecklist(mode AttestationMode) HandoverChecklistState {
	if mode == "" {
		mode = AttestationSingleParty
	}
	return HandoverChecklistState{Mode: mode}
}

// Flag returns the current value of a flag.
func (s HandoverChecklistState) Flag(flag HandoverFlag) bool {
	switch flag {
	case FlagIdentityVerified:
		return s.IdentityVerified
	case FlagHandoverMethodAgreed:
		return s.HandoverMethodAgreed
	case FlagConditionVerified:
		return s.ConditionVerified
	}
	return false
}

// SetFlag returns a copy with the flag set to value. Setting an unknown flag is a no-op.
func (s HandoverChecklistState) SetFlag(flag HandoverFlag, value bool) HandoverChecklistState {
	out := s.clone()
	switch flag {
	case FlagIdentityVerified:
		out.IdentityVerified = value
	case FlagHandoverMethodAgreed:
		out.HandoverMethodAgreed = value
	case FlagConditionVerified:
		out.ConditionVerified = value
	}
	return out
}

// Attest records or withdraws one party's attestation. The flag itself is true only
// while both parties attest it.
func (s HandoverChecklistState) Attest(party Party, flag HandoverFlag, value bool) HandoverChecklistState {
	out := s.clone()
	switch {
	case value && !out.attestedBy(party, flag):
		out.Attestations = append(out.Attestations, Attestation{Party: party, Flag: flag})
	case !value:
		kept := make([]Attestation, 0, len(out.Attestations))
		for _, a := range out.Attestations {
			if a.Party == party && a.Flag == flag {
				continue
			}
			kept = append(kept, a)
		}
		out.Attestations = kept
	}

	return out.SetFlag(flag, out.attestedBy(PartyInitiator, flag) && out.attestedBy(PartyTargetOwner, flag))
}

func (s HandoverChecklistState) attestedBy(party Party, flag HandoverFlag) bool {
	for _, a := range s.Attestations {
		if a.Party == party && a.Flag == flag {
			return true
		}
	}
	return false
}

// IsComplete reports whether all three flags are true.
func (s HandoverChecklistState) IsComplete() bool {
	return s.IdentityVerified && s.HandoverMethodAgreed && s.ConditionVerified
}

// Equal reports whether two checklists hold the same flags and attestations.
func (s HandoverChecklistState) Equal(other HandoverChecklistState) bool {
	if s.Mode != other.Mode ||
		s.IdentityVerified != other.IdentityVerified ||
		s.HandoverMethodAgreed != other.HandoverMethodAgreed ||
		s.ConditionVerified != other.ConditionVerified ||
		len(s.Attestations) != len(other.Attestations) {
		return false
	}
	for i := range s.Attestations {
		if s.Attestations[i] != other.Attestations[i] {
			return false
		}
	}
	return true
}

func (s HandoverChecklistState) clone() HandoverChecklistState {
	out := s
	if s.Attestations != nil {
		out.Attestations = append([]Attestation(nil), s.Attestations...)
	}
	return out
}
