package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"greenlight/internal/util"
	"greenlight/pkg/domain"
)

// MemoryStore keeps submissions in-process. It backs tests and single-node
// development setups.
type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[string]domain.Submission
	signups     []domain.EmailSignup
	orders      []string
	now         func() time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]domain.Submission),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) InsertSubmission(_ context.Context, s domain.Submission) (domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s.ID = util.NewID()
	s.Status = domain.StatusUploaded
	s.Attempts = 0
	s.Analysis = nil
	s.Error = ""
	s.CompletedAt = nil
	s.CreatedAt = now
	s.UpdatedAt = now
	m.submissions[s.ID] = s
	m.orders = append(m.orders, s.ID)
	return cloneSubmission(s), nil
}

func (m *MemoryStore) GetSubmission(_ context.Context, id string) (domain.Submission, bool, error) {
	if !util.ValidID(id) {
		return domain.Submission{}, false, ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return domain.Submission{}, false, nil
	}
	return cloneSubmission(s), true, nil
}

func (m *MemoryStore) UpdateSubmission(_ context.Context, id string, patch domain.SubmissionPatch) error {
	if !util.ValidID(id) {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return ErrNotFound
	}
	patch.Apply(&s)
	s.UpdatedAt = m.now()
	m.submissions[id] = s
	return nil
}

func (m *MemoryStore) TransitionSubmission(_ context.Context, id string, cond Condition, patch domain.SubmissionPatch) (bool, error) {
	if !util.ValidID(id) {
		return false, ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return false, ErrNotFound
	}
	if !cond.matches(s) {
		return false, nil
	}
	patch.Apply(&s)
	s.UpdatedAt = m.now()
	m.submissions[id] = s
	return true, nil
}

func (m *MemoryStore) ListStaleSubmissions(_ context.Context, statuses []domain.SubmissionStatus, before time.Time, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	cond := Condition{Statuses: statuses, UpdatedBefore: before}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Submission
	for _, id := range m.orders {
		s := m.submissions[id]
		if cond.matches(s) {
			s.Text = ""
			res = append(res, cloneSubmission(s))
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].UpdatedAt.Before(res[j].UpdatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) InsertEmailSignup(_ context.Context, e domain.EmailSignup) (domain.EmailSignup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = util.NewID()
	e.CreatedAt = m.now()
	m.signups = append(m.signups, e)
	return e, nil
}

// EmailSignups returns recorded signups in insertion order.
func (m *MemoryStore) EmailSignups() []domain.EmailSignup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.EmailSignup(nil), m.signups...)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func cloneSubmission(s domain.Submission) domain.Submission {
	if s.Analysis != nil {
		a := *s.Analysis
		a.Themes = append([]string(nil), a.Themes...)
		a.Tropes = append([]string(nil), a.Tropes...)
		a.BestComps = append([]domain.ComparableTitle(nil), a.BestComps...)
		a.RecentComps = append([]domain.ComparableTitle(nil), a.RecentComps...)
		s.Analysis = &a
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}
