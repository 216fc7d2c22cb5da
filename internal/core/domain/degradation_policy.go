package domain

import "strings"

// DegradationPolicyMode enumerates how the workflow behaves when Redis backed helpers fail.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient proceeds on infrastructure failures and relies on the version check in storage.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict rejects the operation whenever the match lock cannot be confirmed.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason captures which helper failed.
type DegradationReason string

const (
	// DegradationReasonLockUnavailable indicates the lock backend errored (not contention).
	DegradationReasonLockUnavailable DegradationReason = "lock_unavailable"
	// DegradationReasonReportCacheUnavailable indicates the report cache errored.
	DegradationReasonReportCacheUnavailable DegradationReason = "report_cache_unavailable"
)

// DegradationPolicy centralises fallback decisions.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict):
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	return p.mode
}

// IsStrict indicates whether the policy rejects degraded states.
func (p DegradationPolicy) IsStrict() bool {
	return p.mode == DegradationPolicyModeStrict
}

// AllowsFallback determines if the workflow may continue after the given failure.
// Cache failures always fall back to storage; lock failures only under the lenient mode.
func (p DegradationPolicy) AllowsFallback(reason DegradationReason) bool {
	if reason == DegradationReasonReportCacheUnavailable {
		return true
	}
	return !p.IsStrict()
}
