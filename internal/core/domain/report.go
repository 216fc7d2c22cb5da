package domain

// ReportKind distinguishes lost and found reports.
type ReportKind string

const (
	ReportLost  ReportKind = "lost"
	ReportFound ReportKind = "found"
)

// Report is the read-only projection of a lost or found report the workflow relies on.
type Report struct {
	ID                       string
	OwnerUserID              string
	Kind                     ReportKind
	HasOwnershipVerification bool
	SecurityQuestions        []SecurityQuestion
}

// RequiresOwnershipVerification reports whether matches against this report go through the challenge.
func (r Report) RequiresOwnershipVerification() bool {
	return r.HasOwnershipVerification && len(r.SecurityQuestions) > 0
}
