// Package httpfetch implements collab.Scraper against a bookmark source
// exposed over HTTP. The source serves a JSON listing at /bookmarks and
// per-item detail at /bookmarks/{id}.
package httpfetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/curioworks/curio/pkg/collab"
	"github.com/curioworks/curio/pkg/models"
)

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// Scraper fetches bookmarks from an HTTP source.
type Scraper struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

var _ collab.Scraper = (*Scraper)(nil)

// NewScraper creates a scraper for the given source base URL.
// token may be empty (unauthenticated sources).
func NewScraper(baseURL, token string) *Scraper {
	return &Scraper{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
		logger:     slog.Default(),
	}
}

// listedBookmark is one entry of the source's /bookmarks listing.
type listedBookmark struct {
	ItemID  string          `json:"item_id"`
	Payload json.RawMessage `json:"payload"`
}

// bookmarkDetail is the source's /bookmarks/{id} response.
type bookmarkDetail struct {
	Payload json.RawMessage `json:"payload"`
	Media   []string        `json:"media"`
}

// Discover lists the bookmarks currently at the source. The content hash
// is computed over the listed payload bytes.
func (s *Scraper) Discover(ctx context.Context) ([]collab.Discovered, error) {
	body, err := s.get(ctx, s.baseURL+"/bookmarks")
	if err != nil {
		return nil, fmt.Errorf("discover bookmarks: %w", err)
	}

	var listed []listedBookmark
	if err := json.Unmarshal(body, &listed); err != nil {
		return nil, fmt.Errorf("decode bookmark listing: %w", err)
	}

	out := make([]collab.Discovered, 0, len(listed))
	for _, b := range listed {
		if b.ItemID == "" {
			s.logger.Warn("Skipping listed bookmark without item_id")
			continue
		}
		out = append(out, collab.Discovered{
			ItemID:      b.ItemID,
			RawPayload:  b.Payload,
			ContentHash: hashPayload(b.Payload),
		})
	}
	return out, nil
}

// Fetch materializes an item's full payload and media references.
func (s *Scraper) Fetch(ctx context.Context, item *models.Item) ([]byte, []string, error) {
	detailURL := s.baseURL + "/bookmarks/" + url.PathEscape(item.ItemID)
	body, err := s.get(ctx, detailURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch bookmark %s: %w", item.ItemID, err)
	}

	var detail bookmarkDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, nil, fmt.Errorf("decode bookmark %s: %w", item.ItemID, err)
	}
	return detail.Payload, detail.Media, nil
}

// get performs a GET with bounded retries. Network errors and 5xx/429
// responses are retried with doubling backoff; other statuses fail fast.
func (s *Scraper) get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, retryable, err := s.getOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		s.logger.Warn("Source request failed, retrying",
			"url", rawURL, "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Scraper) getOnce(ctx context.Context, rawURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("source returned HTTP %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("source returned HTTP %d", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response body: %w", err)
	}
	return body, false, nil
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
