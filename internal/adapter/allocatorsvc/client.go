package allocatorsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

// Client is the HTTP-calling domain.RangeAllocator implementation edge
// minters use when the allocator runs as a separately scaled process.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client targeting the allocator service's base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// Allocate implements domain.RangeAllocator by calling POST /v1/allocate.
func (c *Client) Allocate(ctx context.Context, size int64) (int64, int64, error) {
	body, err := json.Marshal(allocateRequest{Size: size})
	if err != nil {
		return 0, 0, fmt.Errorf("op=allocator.client.allocate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/allocate", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("op=allocator.client.allocate: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("op=allocator.client.allocate: %w: %w", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return 0, 0, fmt.Errorf("op=allocator.client.allocate: %w", domain.ErrInvalidArgument)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("op=allocator.client.allocate: %w (status %d)", domain.ErrUnavailable, resp.StatusCode)
	}

	var out allocateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("op=allocator.client.allocate: %w", err)
	}
	return out.Start, out.End, nil
}

// InProcess adapts a Service directly to domain.RangeAllocator, for
// single-binary dev/test wiring that skips the HTTP hop entirely.
type InProcess struct {
	svc *Service
}

// NewInProcess wraps svc as a domain.RangeAllocator.
func NewInProcess(svc *Service) *InProcess { return &InProcess{svc: svc} }

// Allocate delegates straight to the wrapped Service.
func (p *InProcess) Allocate(ctx context.Context, size int64) (int64, int64, error) {
	return p.svc.Allocate(ctx, size)
}
