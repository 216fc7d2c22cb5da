package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MaxVerificationAttempts is the fixed number of wrong answers a claimant may give.
const MaxVerificationAttempts = 3

// SecurityQuestion is a question/answer pair configured by a report owner.
type SecurityQuestion struct {
	ID               string
	QuestionText     string
	NormalizedAnswer string
}

// Question is the claimant-facing view of a security question.
type Question struct {
	ID   string
	Text string
}

// ChallengeQuestion is the snapshot of a security question kept inside a challenge.
// Only a digest of the normalized answer is retained.
type ChallengeQuestion struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	AnswerDigest string `json:"answer_digest"`
}

// ChallengePhase describes the ownership challenge sub-state.
type ChallengePhase string

const (
	ChallengePending    ChallengePhase = "pending"
	ChallengeInProgress ChallengePhase = "in_progress"
	ChallengeVerified   ChallengePhase = "verified"
	ChallengeFailed     ChallengePhase = "failed"
)

// OwnershipChallengeState tracks a claimant's progress through the security questions of a report.
type OwnershipChallengeState struct {
	Questions         []ChallengeQuestion `json:"questions"`
	AskedQuestionIDs  []string            `json:"asked_question_ids"`
	PendingQuestionID string              `json:"pending_question_id,omitempty"`
	AttemptsUsed      int                 `json:"attempts_used"`
	MaxAttempts       int                 `json:"max_attempts"`
	Verified          bool                `json:"verified"`
	Failed            bool                `json:"failed"`
}

// AnswerResult is returned for every submitted answer.
type AnswerResult struct {
	Correct           bool
	AttemptsRemaining int
}

var answerFolder = cases.Fold()

// NormalizeAnswer trims, NFKC-normalizes, case-folds and collapses inner whitespace.
func NormalizeAnswer(answer string) string {
	folded := answerFolder.String(norm.NFKC.String(strings.TrimSpace(answer)))
	return strings.Join(strings.Fields(folded), " ")
}

func answerDigest(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// NewOwnershipChallenge snapshots the report questions in their configured order.
func NewOwnershipChallenge(questions []SecurityQuestion) OwnershipChallengeState {
	snapshot := make([]ChallengeQuestion, 0, len(questions))
	for _, q := range questions {
		snapshot = append(snapshot, ChallengeQuestion{
			ID:           q.ID,
			Text:         q.QuestionText,
			AnswerDigest: answerDigest(NormalizeAnswer(q.NormalizedAnswer)),
		})
	}
	return OwnershipChallengeState{
		Questions:        snapshot,
		AskedQuestionIDs: []string{},
		MaxAttempts:      MaxVerificationAttempts,
	}
}

// Phase derives the sub-state from the counters.
func (s OwnershipChallengeState) Phase() ChallengePhase {
	switch {
	case s.Verified:
		return ChallengeVerified
	case s.Failed:
		return ChallengeFailed
	case s.AttemptsUsed == 0:
		return ChallengePending
	default:
		return ChallengeInProgress
	}
}

// IsResolved reports whether the challenge reached verified or failed.
func (s OwnershipChallengeState) IsResolved() bool {
	return s.Verified || s.Failed
}

// AttemptsRemaining is the number of wrong answers still tolerated.
func (s OwnershipChallengeState) AttemptsRemaining() int {
	remaining := s.maxAttempts() - s.AttemptsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s OwnershipChallengeState) maxAttempts() int {
	if s.MaxAttempts <= 0 {
		return MaxVerificationAttempts
	}
	return s.MaxAttempts
}

func (s OwnershipChallengeState) find(questionID string) (ChallengeQuestion, bool) {
	for _, q := range s.Questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return ChallengeQuestion{}, false
}

func (s OwnershipChallengeState) asked(questionID string) bool {
	for _, id := range s.AskedQuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// NextQuestion presents the question the claimant must answer next.
// A presented but unanswered question is returned again. Unasked questions go
// first in configured order; once all were asked, questions cycle by attempt count.
func (s *OwnershipChallengeState) NextQuestion() (Question, error) {
	if s.Verified {
		return Question{}, ErrChallengeClosed
	}
	if s.Failed || len(s.Questions) == 0 {
		return Question{}, ErrChallengeExhausted
	}

	if s.PendingQuestionID != "" {
		if q, ok := s.find(s.PendingQuestionID); ok {
			return Question{ID: q.ID, Text: q.Text}, nil
		}
		s.PendingQuestionID = ""
	}

	next := s.Questions[s.AttemptsUsed%len(s.Questions)]
	for _, q := range s.Questions {
		if !s.asked(q.ID) {
			next = q
			break
		}
	}

	if !s.asked(next.ID) {
		s.AskedQuestionIDs = append(s.AskedQuestionIDs, next.ID)
	}
	s.PendingQuestionID = next.ID
	return Question{ID: next.ID, Text: next.Text}, nil
}

// SubmitAnswer checks an answer for the presented question and consumes an attempt when wrong.
func (s *OwnershipChallengeState) SubmitAnswer(questionID, answer string) (AnswerResult, error) {
	if s.IsResolved() {
		return AnswerResult{}, ErrChallengeClosed
	}

	normalized := NormalizeAnswer(answer)
	if normalized == "" {
		return AnswerResult{}, ErrEmptyAnswer
	}

	question, ok := s.find(questionID)
	if !ok {
		return AnswerResult{}, ErrUnknownQuestion
	}
	if s.PendingQuestionID != "" && s.PendingQuestionID != questionID {
		return AnswerResult{}, ErrQuestionNotPending
	}
	if !s.asked(questionID) {
		s.AskedQuestionIDs = append(s.AskedQuestionIDs, questionID)
	}
	s.PendingQuestionID = ""

	if subtle.ConstantTimeCompare([]byte(answerDigest(normalized)), []byte(question.AnswerDigest)) == 1 {
		s.Verified = true
		return AnswerResult{Correct: true, AttemptsRemaining: s.AttemptsRemaining()}, nil
	}

	s.AttemptsUsed++
	if s.AttemptsUsed >= s.maxAttempts() {
		s.AttemptsUsed = s.maxAttempts()
		s.Failed = true
		return AnswerResult{Correct: false, AttemptsRemaining: 0}, nil
	}
	return AnswerResult{Correct: false, AttemptsRemaining: s.AttemptsRemaining()}, nil
}

// Clone returns a deep copy.
func (s OwnershipChallengeState) Clone() OwnershipChallengeState {
	out := s
	out.Questions = append([]ChallengeQuestion(nil), s.Questions...)
	out.AskedQuestionIDs = append([]string{}, s.AskedQuestionIDs...)
	return out
}
