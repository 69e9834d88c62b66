// Package engine is the HTTP client for the remote match-retrieval service.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombar/matchscheduler/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// ExtractEndpoint is the path of the extraction call on the engine
const ExtractEndpoint = "/api/extract"

// Request asks the engine to fetch and store recent matches
type Request struct {
	Players             []string `json:"players"`
	MaxMatchesPerPlayer int      `json:"max_matches_per_player"`
	ForceRestart        bool     `json:"force_restart"`
}

// PlayerResult is the per-player outcome reported by the engine
type PlayerResult struct {
	NewMatchesStored int    `json:"new_matches_stored"`
	TotalAvailable   *int   `json:"total_available,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Result is either a per-player map or a top-level error
type Result struct {
	Players map[string]PlayerResult
	Error   string
}

// UnmarshalJSON accepts {"error": "..."} or {"<player>": {...}, ...}
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Players = make(map[string]PlayerResult, len(raw))
	for key, value := range raw {
		if key == "error" {
			var msg *string
			if err := json.Unmarshal(value, &msg); err != nil || msg == nil {
				return fmt.Errorf("invalid error field: %s", value)
			}
			r.Error = *msg
			continue
		}
		var pr PlayerResult
		if err := json.Unmarshal(value, &pr); err != nil {
			return fmt.Errorf("invalid result for %q: %w", key, err)
		}
		r.Players[key] = pr
	}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(map[string]string{"error": r.Error})
	}
	players := r.Players
	if players == nil {
		players = map[string]PlayerResult{}
	}
	return json.Marshal(players)
}

// Stored returns the number of new matches stored for player
func (r *Result) Stored(player string) int {
	if r == nil {
		return 0
	}
	return r.Players[player].NewMatchesStored
}

// Client calls the engine over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the engine at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ExtractMatches performs one extraction call. A result carrying Error is a
// retrieval failure reported by the engine; a returned error is a transport or
// protocol failure.
func (c *Client) ExtractMatches(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.extract_matches",
		attribute.Int("extract.players", len(req.Players)),
		attribute.Int("extract.max_matches", req.MaxMatchesPerPlayer))
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to marshal extract request: %w", err)
	}

	url := c.baseURL + ExtractEndpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to build extract request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to call engine API: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to read engine response: %w", err)
	}

	var result Result
	decodeErr := json.Unmarshal(data, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && result.Error != "" {
			return &result, nil
		}
		err := fmt.Errorf("engine API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if decodeErr != nil {
		tracing.RecordError(ctx, decodeErr)
		return nil, fmt.Errorf("failed to decode engine response: %w", decodeErr)
	}

	tracing.AddEvent(ctx, "matches_extracted")
	return &result, nil
}
