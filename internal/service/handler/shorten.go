// Package handler implements the core Shorten/Redirect business logic.
// ShortenService and RedirectService depend only on domain ports
// (URLStore, URLCache, ClickPublisher, CodeMinter, FallbackStream),
// constructor-injected and swappable for fakes in tests, mirroring the
// teacher's usecase services.
package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shortlinkio/shortlink-core/internal/domain"
	"github.com/shortlinkio/shortlink-core/internal/observability"
)

// base62Alphabet mirrors internal/adapter/minter's alphabet; duplicated here
// (rather than importing the adapter package) so the service layer depends
// only on domain ports, not on a concrete adapter.
const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func decodeBase62(code string) (int64, error) {
	var id int64
	for _, c := range code {
		v := strings.IndexRune(base62Alphabet, c)
		if v < 0 {
			return 0, fmt.Errorf("op=decode_base62: %w", domain.ErrInvalidArgument)
		}
		id = id*62 + int64(v)
	}
	return id, nil
}

// ShortenService implements the shorten-URL operation.
type ShortenService struct {
	store               domain.URLStore
	cache               domain.URLCache
	minter              domain.CodeMinter
	cacheTTL            time.Duration
	maxCollisionRetries int
}

// NewShortenService constructs a ShortenService. maxCollisionRetries
// defaults to 3.
func NewShortenService(store domain.URLStore, cache domain.URLCache, minter domain.CodeMinter, cacheTTL time.Duration, maxCollisionRetries int) *ShortenService {
	if maxCollisionRetries <= 0 {
		maxCollisionRetries = 3
	}
	return &ShortenService{
		store:               store,
		cache:               cache,
		minter:              minter,
		cacheTTL:            cacheTTL,
		maxCollisionRetries: maxCollisionRetries,
	}
}

// Shorten creates a new URL record. If customCode is non-empty it is used
// verbatim (custom-code path); otherwise a code is minted (generated-code
// path), retrying on a (vanishingly rare) collision up to maxCollisionRetries
// times before failing with ErrExhausted.
func (s *ShortenService) Shorten(ctx domain.Context, originalURL, customCode string) (domain.URLRecord, error) {
	if originalURL == "" {
		return domain.URLRecord{}, fmt.Errorf("op=shorten: %w", domain.ErrInvalidArgument)
	}

	if customCode != "" {
		id, err := s.mintID(ctx)
		if err != nil {
			return domain.URLRecord{}, err
		}
		return s.insert(ctx, domain.URLRecord{ID: id, ShortCode: customCode, OriginalURL: originalURL})
	}

	var lastErr error
	for i := 0; i < s.maxCollisionRetries; i++ {
		code, err := s.minter.NextCode(ctx)
		if err != nil {
			return domain.URLRecord{}, fmt.Errorf("op=shorten: %w", err)
		}
		id, err := decodeBase62(code)
		if err != nil {
			return domain.URLRecord{}, fmt.Errorf("op=shorten: %w", err)
		}
		rec, err := s.insert(ctx, domain.URLRecord{ID: id, ShortCode: code, OriginalURL: originalURL})
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, domain.ErrCustomCodeTaken) {
			lastErr = err
			continue
		}
		return domain.URLRecord{}, err
	}
	observability.ShortenTotal.WithLabelValues("exhausted").Inc()
	return domain.URLRecord{}, fmt.Errorf("op=shorten: %w: %v", domain.ErrExhausted, lastErr)
}

// mintID obtains a fresh minted code purely to reserve a unique integer id
// for the custom-code path, discarding the code itself.
func (s *ShortenService) mintID(ctx domain.Context) (int64, error) {
	code, err := s.minter.NextCode(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=shorten.mint_id: %w", err)
	}
	id, err := decodeBase62(code)
	if err != nil {
		return 0, fmt.Errorf("op=shorten.mint_id: %w", err)
	}
	return id, nil
}

func (s *ShortenService) insert(ctx domain.Context, rec domain.URLRecord) (domain.URLRecord, error) {
	out, err := s.store.Insert(ctx, rec)
	if err != nil {
		if errors.Is(err, domain.ErrCustomCodeTaken) {
			observability.ShortenTotal.WithLabelValues("taken").Inc()
		}
		return domain.URLRecord{}, err
	}
	if err := s.cache.Set(ctx, out.ShortCode, out.ToPayload(), s.cacheTTL); err != nil {
		// Write-through is best-effort; a miss just falls back to the
		// redirect path's OLTP read.
		_ = err
	}
	observability.ShortenTotal.WithLabelValues("ok").Inc()
	return out, nil
}
