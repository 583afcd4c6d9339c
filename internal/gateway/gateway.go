package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound means the gateway has no entity with that ID. It is an
	// application answer, not an outage, so the breaker treats it as success.
	ErrNotFound = errors.New("gateway entity not found")

	// ErrUnavailable wraps transport and 5xx failures.
	ErrUnavailable = errors.New("gateway unavailable")
)

// Client fetches entity state from the payment gateway API. Handlers use it
// to reconcile webhook payloads against the source of truth.
type Client interface {
	FetchEntity(ctx context.Context, kind, id string) (map[string]interface{}, error)
}

type httpClient struct {
	baseURL string
	keyID   string
	secret  string
	http    *http.Client
	log     *zap.Logger
}

func NewHTTPClient(baseURL, keyID, secret string, log *zap.Logger) Client {
	return &httpClient{
		baseURL: baseURL,
		keyID:   keyID,
		secret:  secret,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("gateway"),
	}
}

func (c *httpClient) FetchEntity(ctx context.Context, kind, id string) (map[string]interface{}, error) {
	url := fmt.Sprintf("%s/%ss/%s", c.baseURL, kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	var entity map[string]interface{}
	if err := json.Unmarshal(body, &entity); err != nil {
		return nil, fmt.Errorf("decode entity %s/%s: %w", kind, id, err)
	}
	return entity, nil
}
