// Package homeassistant talks to a Home Assistant instance: the WebSocket
// API for long-term statistics and the REST API for current states.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"energyflow/internal/model"
)

// ErrUnknownEntity is returned when Home Assistant has no state for an entity.
var ErrUnknownEntity = errors.New("homeassistant: unknown entity")

type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.message)
}

func isRetryable(err error) bool {
	var ae *apiError
	if !errors.As(err, &ae) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return ae.statusCode == http.StatusTooManyRequests || ae.statusCode >= 500
}

// RESTClient reads entity states over the REST API.
type RESTClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger

	// Attempts bounds retries of retryable failures; RetryBase is the first
	// backoff delay, doubled on every attempt.
	Attempts  int
	RetryBase time.Duration
}

// NewRESTClient creates a client for baseURL (e.g. http://homeassistant:8123).
func NewRESTClient(baseURL, token string, logger *slog.Logger) *RESTClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
		Attempts:  5,
		RetryBase: time.Second,
	}
}

type stateResponse struct {
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	Attributes struct {
		UnitOfMeasurement string `json:"unit_of_measurement"`
	} `json:"attributes"`
	LastChanged time.Time `json:"last_changed"`
}

func (s stateResponse) entityState() model.EntityState {
	return model.EntityState{
		EntityID:    s.EntityID,
		Value:       s.State,
		Unit:        s.Attributes.UnitOfMeasurement,
		LastChanged: s.LastChanged,
	}
}

// CurrentState fetches /api/states/<entity_id>.
func (c *RESTClient) CurrentState(ctx context.Context, entityID string) (model.EntityState, error) {
	body, err := c.get(ctx, "/api/states/"+url.PathEscape(entityID))
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.statusCode == http.StatusNotFound {
			return model.EntityState{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
		}
		return model.EntityState{}, fmt.Errorf("fetching state of %s: %w", entityID, err)
	}

	var resp stateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.EntityState{}, fmt.Errorf("parsing state of %s: %w", entityID, err)
	}
	return resp.entityState(), nil
}

func (c *RESTClient) get(ctx context.Context, path string) ([]byte, error) {
	attempts := max(c.Attempts, 1)

	var body []byte
	var err error
	for attempt := range attempts {
		body, err = c.doRequest(ctx, c.baseURL+path)
		if err == nil {
			return body, nil
		}
		if !isRetryable(err) || attempt == attempts-1 {
			break
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * c.RetryBase
		c.logger.Debug("retrying request", "path", path, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	if isRetryable(err) {
		return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return nil, err
}

func (c *RESTClient) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &apiError{statusCode: resp.StatusCode, message: "authentication failed, check HA_TOKEN"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{statusCode: resp.StatusCode, message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
