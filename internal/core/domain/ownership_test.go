package domain

import (
	"errors"
	"testing"
)

func twoQuestions() []SecurityQuestion {
	return []SecurityQuestion{
		{ID: "q1", QuestionText: "What colour is the strap?", NormalizedAnswer: "red"},
		{ID: "q2", QuestionText: "What is engraved on the back?", NormalizedAnswer: "for anna"},
	}
}

func TestNormalizeAnswer(t *testing.T) {
	cases := map[string]string{
		"  Red ":          "red",
		"FOR   Anna":      "for anna",
		"\tＲＥＤ\n":         "red",
		"   ":             "",
		"multi\nline ans": "multi line ans",
	}
	for in, want := range cases {
		if got := NormalizeAnswer(in); got != want {
			t.Fatalf("NormalizeAnswer(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNextQuestionReturnsPendingQuestionAgain(t *testing.T) {
	state := NewOwnershipChallenge(twoQuestions())

	first, err := state.NextQuestion()
	if err != nil {
		t.Fatalf("NextQuestion returned error: %v", err)
	}
	again, err := state.NextQuestion()
	if err != nil {
		t.Fatalf("NextQuestion returned error: %v", err)
	}
	if first.ID != "q1" || again.ID != "q1" {
		t.Fatalf("expected q1 twice, got %s then %s", first.ID, again.ID)
	}
	if len(state.AskedQuestionIDs) != 1 {
		t.Fatalf("expected one asked question, got %v", state.AskedQuestionIDs)
	}
	if state.Phase() != ChallengePending {
		t.Fatalf("expected pending phase, got %s", state.Phase())
	}
}

func TestChallengeCyclesQuestionsAfterAllAsked(t *testing.T) {
	state := NewOwnershipChallenge(twoQuestions())

	q, _ := state.NextQuestion()
	res, err := state.SubmitAnswer(q.ID, "blue")
	if err != nil || res.Correct || res.AttemptsRemaining != 2 {
		t.Fatalf("unexpected first result %+v err=%v", res, err)
	}

	q, _ = state.NextQuestion()
	if q.ID != "q2" {
		t.Fatalf("expected q2, got %s", q.ID)
	}
	res, err = state.SubmitAnswer(q.ID, "for bob")
	if err != nil || res.Correct || res.AttemptsRemaining != 1 {
		t.Fatalf("unexpected second result %+v err=%v", res, err)
	}
	if state.Phase() != ChallengeInProgress {
		t.Fatalf("expected in_progress phase, got %s", state.Phase())
	}

	q, _ = state.NextQuestion()
	if q.ID != "q1" {
		t.Fatalf("expected cycle back to q1, got %s", q.ID)
	}
	res, err = state.SubmitAnswer(q.ID, " RED ")
	if err != nil {
		t.Fatalf("SubmitAnswer returned error: %v", err)
	}
	if !res.Correct || res.AttemptsRemaining != 1 {
		t.Fatalf("expected correct with 1 remaining, got %+v", res)
	}
	if !state.Verified || state.Failed {
		t.Fatalf("expected verified only, got verified=%v failed=%v", state.Verified, state.Failed)
	}
	if got := []string{"q1", "q2"}; len(state.AskedQuestionIDs) != 2 || state.AskedQuestionIDs[0] != got[0] || state.AskedQuestionIDs[1] != got[1] {
		t.Fatalf("unexpected asked ids %v", state.AskedQuestionIDs)
	}
}

func TestChallengeFailsAtMaxAttempts(t *testing.T) {
	state := NewOwnershipChallenge(twoQuestions())

	var last AnswerResult
	for i := 0; i < MaxVerificationAttempts; i++ {
		q, err := state.NextQuestion()
		if err != nil {
			t.Fatalf("NextQuestion %d returned error: %v", i, err)
		}
		last, err = state.SubmitAnswer(q.ID, "wrong")
		if err != nil {
			t.Fatalf("SubmitAnswer %d returned error: %v", i, err)
		}
	}

	if last.AttemptsRemaining != 0 || last.Correct {
		t.Fatalf("expected exhausted result, got %+v", last)
	}
	if !state.Failed || state.Verified {
		t.Fatalf("expected failed only")
	}
	if state.AttemptsUsed != MaxVerificationAttempts {
		t.Fatalf("attempts used %d exceeds max", state.AttemptsUsed)
	}

	if _, err := state.SubmitAnswer("q1", "red"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state after failure, got %v", err)
	}
	if _, err := state.NextQuestion(); !errors.Is(err, ErrChallengeExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	state := NewOwnershipChallenge(twoQuestions())
	q, _ := state.NextQuestion()

	if _, err := state.SubmitAnswer(q.ID, "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank answer, got %v", err)
	}
	if _, err := state.SubmitAnswer("q2", "for anna"); !errors.Is(err, ErrQuestionNotPending) {
		t.Fatalf("expected not-pending error, got %v", err)
	}
	if _, err := state.SubmitAnswer("q9", "x"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected unknown question error, got %v", err)
	}
	if state.AttemptsUsed != 0 {
		t.Fatalf("validation failures must not consume attempts, used %d", state.AttemptsUsed)
	}
}

func TestSubmitAnswerAfterVerifiedIsInvalidState(t *testing.T) {
	state := NewOwnershipChallenge(twoQuestions())
	q, _ := state.NextQuestion()
	if _, err := state.SubmitAnswer(q.ID, "red"); err != nil {
		t.Fatalf("SubmitAnswer returned error: %v", err)
	}
	if _, err := state.SubmitAnswer(q.ID, "red"); !errors.Is(err, ErrChallengeClosed) {
		t.Fatalf("expected closed challenge, got %v", err)
	}
	if _, err := state.NextQuestion(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestChallengeWithoutQuestionsIsExhausted(t *testing.T) {
	state := NewOwnershipChallenge(nil)
	if _, err := state.NextQuestion(); !errors.Is(err, ErrChallengeExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}
