package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/peer/middleware"
	"github.com/iudanet/gophsync/internal/peer/wire"
	"github.com/iudanet/gophsync/internal/publish"
	"github.com/iudanet/gophsync/pkg/api"
)

// Client представляет HTTP клиент одного пира
type Client struct {
	httpClient *http.Client
	baseURL    string
	device     models.DeviceID
}

// NewClient создает клиент пира baseURL от имени device
func NewClient(baseURL string, device models.DeviceID, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		device:  device,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the address of the peer.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SendUpdates отправляет уведомление об изменениях
func (c *Client) SendUpdates(ctx context.Context, req api.UpdatesRequest) (*api.UpdatesResponse, error) {
	var resp api.UpdatesResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/updates", req, &resp); err != nil {
		return nil, fmt.Errorf("updates request failed: %w", err)
	}
	return &resp, nil
}

// Health запрашивает состояние пира
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.DeviceHeader, string(c.device))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("peer error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Broadcaster announces local updates to every configured peer.
type Broadcaster struct {
	logger  *slog.Logger
	device  models.DeviceID
	clients []*Client
}

// NewBroadcaster creates a Broadcaster for the peers at urls.
func NewBroadcaster(device models.DeviceID, urls []string, timeout time.Duration, logger *slog.Logger) *Broadcaster {
	b := &Broadcaster{
		logger: logger,
		device: device,
	}
	for _, u := range urls {
		b.clients = append(b.clients, NewClient(u, device, timeout))
	}
	return b
}

// Peers returns the number of configured peers.
func (b *Broadcaster) Peers() int {
	return len(b.clients)
}

// Broadcast sends updates to all peers concurrently. The errors of
// unreachable peers are collected into one *multierror.Error.
func (b *Broadcaster) Broadcast(ctx context.Context, updates []publish.Update) error {
	if len(b.clients) == 0 || len(updates) == 0 {
		return nil
	}
	req := wire.Encode(b.device, updates)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, c := range b.clients {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := c.SendUpdates(ctx, req)
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("peer %s: %w", c.BaseURL(), err))
				mu.Unlock()
				return
			}
			b.logger.Debug("updates delivered", "peer", c.BaseURL(), "keys", len(updates), "received", resp.Received)
		}()
	}
	wg.Wait()

	return result.ErrorOrNil()
}
