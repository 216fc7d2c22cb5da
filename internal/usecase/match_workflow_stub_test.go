package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
)

type fakeMatchRepository struct {
	mu      sync.Mutex
	matches map[string]domain.MatchRequest

	createErr error
	saveErr   error
	// bumpBeforeSave simulates a concurrent writer landing between load and save.
	bumpBeforeSave bool
	saveCalls      int
}

func newFakeMatchRepository(matches ...domain.MatchRequest) *fakeMatchRepository {
	repo := &fakeMatchRepository{matches: make(map[string]domain.MatchRequest)}
	for _, m := range matches {
		if m.Version <= 0 {
			m.Version = 1
		}
		repo.matches[m.ID] = m.Clone()
	}
	return repo
}

func (f *fakeMatchRepository) Create(_ context.Context, match domain.MatchRequest) (domain.MatchRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.MatchRequest{}, f.createErr
	}
	if _, exists := f.matches[match.ID]; exists {
		return domain.MatchRequest{}, repository.ErrDuplicate
	}
	match.Version = 1
	f.matches[match.ID] = match.Clone()
	return match, nil
}

func (f *fakeMatchRepository) Get(_ context.Context, matchID string) (*domain.MatchRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[matchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := m.Clone()
	return &out, nil
}

func (f *fakeMatchRepository) Save(_ context.Context, match domain.MatchRequest, expectedVersion int64) (domain.MatchRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return domain.MatchRequest{}, f.saveErr
	}
	stored, ok := f.matches[match.ID]
	if !ok {
		return domain.MatchRequest{}, repository.ErrNotFound
	}
	if f.bumpBeforeSave {
		stored.Version++
		f.matches[match.ID] = stored
	}
	if stored.Version != expectedVersion {
		return domain.MatchRequest{}, repository.ErrConcurrencyConflict
	}
	match.Version = expectedVersion + 1
	f.matches[match.ID] = match.Clone()
	return match, nil
}

func (f *fakeMatchRepository) ListByReport(_ context.Context, reportID string) ([]domain.MatchRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MatchRequest
	for _, m := range f.matches {
		if m.SourceReportID == reportID || m.TargetReportID == reportID {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (f *fakeMatchRepository) stored(matchID string) domain.MatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matches[matchID].Clone()
}

// fakeOutboxWriter saves through repo and queues notifications only when the save succeeds,
// mirroring a single transaction.
type fakeOutboxWriter struct {
	repo       *fakeMatchRepository
	enqueueErr error
	queued     []domain.MatchNotification
}

func (w *fakeOutboxWriter) SaveWithNotifications(ctx context.Context, match domain.MatchRequest, expectedVersion int64, notifications []domain.MatchNotification) (domain.MatchRequest, error) {
	if w.enqueueErr != nil && len(notifications) > 0 {
		return domain.MatchRequest{}, w.enqueueErr
	}
	saved, err := w.repo.Save(ctx, match, expectedVersion)
	if err != nil {
		return domain.MatchRequest{}, err
	}
	w.queued = append(w.queued, notifications...)
	return saved, nil
}

type fakeReportReader struct {
	reports map[string]domain.Report
	err     error
	calls   int
}

func newFakeReportReader(reports ...domain.Report) *fakeReportReader {
	r := &fakeReportReader{reports: make(map[string]domain.Report)}
	for _, report := range reports {
		r.reports[report.ID] = report
	}
	return r
}

func (r *fakeReportReader) GetReport(_ context.Context, reportID string) (*domain.Report, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	report, ok := r.reports[reportID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &report, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.MatchNotification
	err    error
}

func (n *recordingNotifier) NotifyParties(_ context.Context, notification domain.MatchNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification)
	return n.err
}

func (n *recordingNotifier) types() []domain.MatchEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.MatchEventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	acquired int
	released int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, matchID string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[matchID] {
		return nil, port.ErrLockHeld
	}
	l.held[matchID] = true
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, matchID)
		l.released++
		return nil
	}, nil
}

type recordingMetrics struct {
	transitions          []string
	answers              []bool
	conflicts            []string
	notificationFailures []domain.MatchEventType
	cacheHits            int
	cacheMisses          int
}

func (m *recordingMetrics) IncTransition(from, to domain.MatchStatus) {
	m.transitions = append(m.transitions, string(from)+"->"+string(to))
}

func (m *recordingMetrics) IncAnswerAttempt(correct bool) { m.answers = append(m.answers, correct) }

func (m *recordingMetrics) IncConflict(operation string) {
	m.conflicts = append(m.conflicts, operation)
}

func (m *recordingMetrics) IncNotificationFailure(eventType domain.MatchEventType) {
	m.notificationFailures = append(m.notificationFailures, eventType)
}

func (m *recordingMetrics) IncCacheHit()  { m.cacheHits++ }
func (m *recordingMetrics) IncCacheMiss() { m.cacheMisses++ }

type fakeReportCache struct {
	reports map[string]domain.Report
	getErr  error
	setErr  error
	sets    int
}

func (c *fakeReportCache) GetReport(_ context.Context, reportID string) (*domain.Report, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	report, ok := c.reports[reportID]
	if !ok {
		return nil, false, nil
	}
	return &report, true, nil
}

func (c *fakeReportCache) SetReport(_ context.Context, report domain.Report, _ time.Duration) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	if c.reports == nil {
		c.reports = make(map[string]domain.Report)
	}
	c.reports[report.ID] = report
	return nil
}

func (c *fakeReportCache) InvalidateReport(_ context.Context, reportID string) error {
	delete(c.reports, reportID)
	return nil
}

var errBackendDown = errors.New("backend down")
