package service_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/creatorsync/internal/collector"
	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/model"
	"github.com/unclebandit/creatorsync/internal/queue"
	"github.com/unclebandit/creatorsync/internal/transport"
)

var nopLogger = zap.NewNop()

// --- Delivery records ---

type MockRecordRepo struct {
	mu       sync.Mutex
	records  map[string]*model.DeliveryRecord
	charges  []model.CreditCharge
	getErr   error
	createFn func(rec *model.DeliveryRecord) error
}

func NewMockRecordRepo() *MockRecordRepo {
	return &MockRecordRepo{records: map[string]*model.DeliveryRecord{}}
}

func (m *MockRecordRepo) GetByMessageID(_ context.Context, id string) (*model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if rec, ok := m.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (m *MockRecordRepo) Create(_ context.Context, rec *model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createFn != nil {
		if err := m.createFn(rec); err != nil {
			return err
		}
	}
	if _, ok := m.records[rec.MessageID]; ok {
		return appErrors.ErrDuplicate
	}
	cp := *rec
	m.records[rec.MessageID] = &cp
	return nil
}

func (m *MockRecordRepo) UpdateAttempt(_ context.Context, rec *model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.MessageID] = &cp
	return nil
}

func (m *MockRecordRepo) MarkSent(_ context.Context, rec *model.DeliveryRecord, charge *model.CreditCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if charge != nil {
		m.charges = append(m.charges, *charge)
	}
	cp := *rec
	if cur, ok := m.records[rec.MessageID]; ok {
		if cur.Status != model.StatusQueued && cur.Status != model.StatusRetrying {
			cp.Status = cur.Status
		}
		if cur.SentAt != nil {
			cp.SentAt = cur.SentAt
		}
		cp.DeliveredAt, cp.ReadAt = cur.DeliveredAt, cur.ReadAt
	}
	m.records[rec.MessageID] = &cp
	return nil
}

func (m *MockRecordRepo) ApplyStatus(_ context.Context, provider, id string, apply func(*model.DeliveryRecord) bool) (*model.DeliveryRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rec *model.DeliveryRecord
	for _, r := range m.records {
		if r.Provider != nil && *r.Provider == provider && r.ProviderMessageID != nil && *r.ProviderMessageID == id {
			rec = r
			break
		}
	}
	if rec == nil {
		rec = m.records[id]
	}
	if rec == nil {
		return nil, false, appErrors.ErrNotFound
	}
	changed := apply(rec)
	cp := *rec
	return &cp, changed, nil
}

func (m *MockRecordRepo) Get(id string) *model.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

func (m *MockRecordRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// --- Transport ---

type MockSender struct {
	mu     sync.Mutex
	errs   []error
	calls  []transport.Message
	result transport.Result
	// onSend runs before the send is recorded, as if the provider called
	// back while the request was still in flight.
	onSend func(msg transport.Message)
}

func (s *MockSender) Send(_ context.Context, msg transport.Message) (transport.Result, error) {
	if s.onSend != nil {
		s.onSend(msg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg)
	if len(s.errs) > 0 {
		err := s.errs[0]
		if len(s.errs) > 1 {
			s.errs = s.errs[1:]
		}
		if err != nil {
			return transport.Result{}, err
		}
	}
	return s.result, nil
}

func (s *MockSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// --- Admission ---

type MockLimiter struct {
	limited bool
	err     error
	keys    []string
}

func (l *MockLimiter) Limit(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.limited, l.err
}

type MockCredits map[string]int

func (c MockCredits) Remaining(_ context.Context, brandID string) (int, error) {
	return c[brandID], nil
}

// --- Profiles ---

type MockProfileRepo struct {
	mu        sync.Mutex
	profiles  []*model.TrackedProfile
	persisted []*model.ProfileSync
	findErr   error
	listErr   error
}

func (m *MockProfileRepo) GetByID(_ context.Context, id int64) (*model.TrackedProfile, error) {
	for _, p := range m.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, appErrors.ErrNotFound
}

func (m *MockProfileRepo) ListActive(context.Context) ([]*model.TrackedProfile, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.TrackedProfile
	for _, p := range m.profiles {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockProfileRepo) FindByHandle(_ context.Context, platform, handle string) (*model.TrackedProfile, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, p := range m.profiles {
		if p.Platform == platform && strings.EqualFold(p.Handle, handle) {
			return p, nil
		}
	}
	return nil, appErrors.NewProfileNotFound(platform, handle)
}

func (m *MockProfileRepo) Persist(_ context.Context, s *model.ProfileSync) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persisted = append(m.persisted, s)
	return nil
}

// --- Collector ---

type MockFetcher struct {
	result *collector.Analytics
	err    error
	calls  []string
}

func (f *MockFetcher) FetchAnalytics(_ context.Context, platform, username string) (*collector.Analytics, error) {
	f.calls = append(f.calls, platform+"/"+username)
	return f.result, f.err
}

// --- Broker ---

// failingBroker fails every publish and delegates the rest.
type failingBroker struct {
	*queue.MemoryBroker
	err error
}

func (b *failingBroker) Publish(context.Context, string, any, queue.Priority) (string, error) {
	return "", b.err
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
}
