package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
)

// memoryRegistry is an in-memory TokenRegistry.
type memoryRegistry struct {
	mu      sync.Mutex
	records map[int64]models.TokenRecord
	loadErr error
	// block, when set, makes LoadAll wait for ctx to end.
	block bool
}

func newMemoryRegistry(records ...models.TokenRecord) *memoryRegistry {
	r := &memoryRegistry{records: make(map[int64]models.TokenRecord)}
	for _, rec := range records {
		r.records[rec.EmployeeID] = rec
	}
	return r
}

func (r *memoryRegistry) LoadAll(ctx context.Context) ([]models.TokenRecord, error) {
	if r.block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, ctx.Err())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	out := make([]models.TokenRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (r *memoryRegistry) Insert(_ context.Context, id int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[id]
	rec.EmployeeID = id
	rec.Name = name
	r.records[id] = rec
	return nil
}

func (r *memoryRegistry) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *memoryRegistry) get(id int64) (models.TokenRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

type pushCall struct {
	n      models.RenderedNotification
	data   map[string]string
	tokens []string
}

type fakePush struct {
	mu      sync.Mutex
	calls   []pushCall
	err     error
	release chan struct{}
}

func (f *fakePush) Name() string { return "push" }

func (f *fakePush) Send(ctx context.Context, n models.RenderedNotification, data map[string]string, tokens []string) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pushCall{n: n, data: data, tokens: tokens})
	return f.err
}

func (f *fakePush) sent() []pushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushCall(nil), f.calls...)
}

type fakeMail struct {
	mu    sync.Mutex
	calls []models.RenderedNotification
	err   error
}

func (f *fakeMail) Name() string { return "mail" }

func (f *fakeMail) Send(_ context.Context, n models.RenderedNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n)
	return f.err
}

func (f *fakeMail) sent() []models.RenderedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RenderedNotification(nil), f.calls...)
}

type fakeSuppressor struct {
	mu         sync.Mutex
	suppressed map[string]bool
	filterErr  error
}

func newFakeSuppressor(tokens ...string) *fakeSuppressor {
	s := &fakeSuppressor{suppressed: make(map[string]bool)}
	for _, t := range tokens {
		s.suppressed[t] = true
	}
	return s
}

func (s *fakeSuppressor) FilterSuppressed(_ context.Context, tokens []string) ([]string, error) {
	if s.filterErr != nil {
		return nil, s.filterErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, t := range tokens {
		if !s.suppressed[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeSuppressor) SuppressToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed[token] = true
	return nil
}

func (s *fakeSuppressor) isSuppressed(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed[token]
}
