// Package minter implements the edge-local short-code minter: a bounded
// (next, end) integer range refilled from a domain.RangeAllocator, encoded to
// base62 short codes.
package minter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shortlinkio/shortlink-core/internal/domain"
	"github.com/shortlinkio/shortlink-core/internal/observability"
)

const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Minter hands out unique short codes, refilling its local range from the
// allocator when exhausted. Safe for concurrent use within one process.
type Minter struct {
	mu            sync.Mutex
	next, end     int64
	blockSize     int64
	minCodeLength int
	allocator     domain.RangeAllocator
}

// New constructs a Minter with an empty range; the first NextCode call
// triggers the initial refill.
func New(allocator domain.RangeAllocator, blockSize int64, minCodeLength int) *Minter {
	if blockSize <= 0 {
		blockSize = 1000
	}
	if minCodeLength <= 0 {
		minCodeLength = 7
	}
	return &Minter{
		allocator:     allocator,
		blockSize:     blockSize,
		minCodeLength: minCodeLength,
		next:          1,
		end:           0, // next > end forces a refill on first call
	}
}

// NextCode returns a new unique short code, refilling the local range from
// the allocator when exhausted. Concurrent callers serialize on the refill.
func (m *Minter) NextCode(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.next > m.end {
		start, end, err := m.allocator.Allocate(ctx, m.blockSize)
		if err != nil {
			observability.MinterRefillsTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("op=minter.next_code: %w", domain.ErrAllocatorExhausted)
		}
		observability.MinterRefillsTotal.WithLabelValues("ok").Inc()
		m.next, m.end = start, end
	}

	id := m.next
	m.next++
	return Encode(id, m.minCodeLength), nil
}

// Encode converts a non-negative 64-bit integer id into a base62 string,
// zero-left-padded to at least minLength characters. Encoding proceeds
// least-significant-digit-first and is reversed before returning.
func Encode(id int64, minLength int) string {
	if id == 0 {
		return strings.Repeat("0", max(minLength, 1))
	}
	var b strings.Builder
	for id > 0 {
		b.WriteByte(base62Alphabet[id%62])
		id /= 62
	}
	s := reverse(b.String())
	if len(s) < minLength {
		s = strings.Repeat("0", minLength-len(s)) + s
	}
	return s
}

// Decode reverses Encode, for diagnostics only.
func Decode(code string) (int64, error) {
	var id int64
	for _, c := range code {
		v := strings.IndexRune(base62Alphabet, c)
		if v < 0 {
			return 0, fmt.Errorf("op=minter.decode: %w", domain.ErrInvalidArgument)
		}
		id = id*62 + int64(v)
	}
	return id, nil
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
