package handler

import (
	"sync"
	"time"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

// fakeStore is an in-memory domain.URLStore, keyed by short code.
type fakeStore struct {
	mu      sync.Mutex
	byCode  map[string]domain.URLRecord
	insertErr error
	getErr    error
}

func newFakeStore() *fakeStore { return &fakeStore{byCode: map[string]domain.URLRecord{}} }

func (f *fakeStore) Insert(_ domain.Context, rec domain.URLRecord) (domain.URLRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return domain.URLRecord{}, f.insertErr
	}
	if _, exists := f.byCode[rec.ShortCode]; exists {
		return domain.URLRecord{}, domain.ErrCustomCodeTaken
	}
	f.byCode[rec.ShortCode] = rec
	return rec, nil
}

func (f *fakeStore) GetByCode(_ domain.Context, code string) (domain.URLRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.URLRecord{}, f.getErr
	}
	rec, ok := f.byCode[code]
	if !ok {
		return domain.URLRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) ApplyClickDeltas(_ domain.Context, deltas map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for code, delta := range deltas {
		rec := f.byCode[code]
		rec.Clicks += delta
		f.byCode[code] = rec
	}
	return nil
}

func (f *fakeStore) TopByClicks(_ domain.Context, n int) ([]domain.URLRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.URLRecord, 0, len(f.byCode))
	for _, rec := range f.byCode {
		out = append(out, rec)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// fakeCache is an in-memory domain.URLCache.
type fakeCache struct {
	mu         sync.Mutex
	entries    map[string]domain.CachedURLPayload
	negatives  map[string]bool
	locks      map[string]bool
	buffers    map[string]int64
	hotScores  map[string]int64
	setErr     error
	getErr     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries:   map[string]domain.CachedURLPayload{},
		negatives: map[string]bool{},
		locks:     map[string]bool{},
		buffers:   map[string]int64{},
		hotScores: map[string]int64{},
	}
}

func (c *fakeCache) Get(_ domain.Context, code string) (domain.CachedURLPayload, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return domain.CachedURLPayload{}, false, c.getErr
	}
	p, ok := c.entries[code]
	return p, ok, nil
}

func (c *fakeCache) Set(_ domain.Context, code string, payload domain.CachedURLPayload, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[code] = payload
	return nil
}

func (c *fakeCache) SetNegative(_ domain.Context, code string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.negatives[code] = true
	return nil
}

func (c *fakeCache) IsNegative(_ domain.Context, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negatives[code], nil
}

func (c *fakeCache) AcquireLock(_ domain.Context, code string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[code] {
		return false, nil
	}
	c.locks[code] = true
	return true, nil
}

func (c *fakeCache) ReleaseLock(_ domain.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, code)
	return nil
}

func (c *fakeCache) IncrClickBuffer(_ domain.Context, code string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers[code]++
	return c.buffers[code], nil
}

func (c *fakeCache) IncrHotScore(_ domain.Context, code string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hotScores[code]++
	return nil
}

func (c *fakeCache) TopHotKeys(_ domain.Context, n int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, n)
	for k := range c.hotScores {
		if len(out) >= n {
			break
		}
		out = append(out, k)
	}
	return out, nil
}

func (c *fakeCache) WarmBatch(_ domain.Context, payloads []domain.CachedURLPayload, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range payloads {
		c.entries[p.ShortCode] = p
	}
	return nil
}

// fakeMinter hands out sequential codes deterministically for tests.
type fakeMinter struct {
	mu   sync.Mutex
	next int64
	err  error
}

func (m *fakeMinter) NextCode(_ domain.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.next++
	return encodeBase62ForTest(m.next), nil
}

// encodeBase62ForTest mirrors minter.Encode without importing the adapter.
func encodeBase62ForTest(id int64) string {
	if id == 0 {
		return "0000000"
	}
	var digits []byte
	for id > 0 {
		digits = append(digits, base62Alphabet[id%62])
		id /= 62
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	s := string(digits)
	for len(s) < 7 {
		s = "0" + s
	}
	return s
}

// fakePublisher records published events and can be made to fail.
type fakePublisher struct {
	mu        sync.Mutex
	published []domain.ClickEvent
	err       error
}

func (p *fakePublisher) Publish(_ domain.Context, ev domain.ClickEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ev)
	return nil
}

func (p *fakePublisher) snapshot() []domain.ClickEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ClickEvent, len(p.published))
	copy(out, p.published)
	return out
}

// fakeFallback records appended events.
type fakeFallback struct {
	mu       sync.Mutex
	appended []domain.ClickEvent
}

func (f *fakeFallback) Append(_ domain.Context, ev domain.ClickEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, ev)
	return nil
}

func (f *fakeFallback) Drain(_ domain.Context, _ int64, _ func(domain.Context, domain.ClickEvent) error) error {
	return nil
}

func (f *fakeFallback) snapshot() []domain.ClickEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ClickEvent, len(f.appended))
	copy(out, f.appended)
	return out
}
