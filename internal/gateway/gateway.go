// Package gateway is the REST client for the catalog API. Responses are returned
// as raw JSON; callers validate their shape before trusting them.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/metrics"
)

var (
	// ErrRejected means the service understood the request and refused it.
	ErrRejected = errors.New("gateway: request rejected")
	// ErrMalformed means the service answered with a body we cannot use.
	ErrMalformed = errors.New("gateway: malformed response")
)

// maxBody caps how much of a response we are willing to read.
const maxBody = 8 << 20

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway returned status %d", e.Code)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.Code, e.Body)
}

// placePayload is the body sent on create and update.
type placePayload struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	PhotoURL    string  `json:"photo_url,omitempty"`
}

type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) ListArtisans(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, "list_artisans", http.MethodGet, "/artisans", "", "", nil)
}

// ListPlaces fetches the place collection. token may be empty for the public view.
func (c *Client) ListPlaces(ctx context.Context, token string) (json.RawMessage, error) {
	return c.do(ctx, "list_places", http.MethodGet, "/places", token, "", nil)
}

func (c *Client) CreatePlace(ctx context.Context, token, idempotencyKey string, item domain.Item) (json.RawMessage, error) {
	return c.do(ctx, "create_place", http.MethodPost, "/places", token, idempotencyKey, toPayload(item))
}

func (c *Client) UpdatePlace(ctx context.Context, token, idempotencyKey string, id int64, item domain.Item) (json.RawMessage, error) {
	return c.do(ctx, "update_place", http.MethodPut, "/places/"+strconv.FormatInt(id, 10), token, idempotencyKey, toPayload(item))
}

func (c *Client) DeletePlace(ctx context.Context, token, idempotencyKey string, id int64) error {
	_, err := c.do(ctx, "delete_place", http.MethodDelete, "/places/"+strconv.FormatInt(id, 10), token, idempotencyKey, nil)
	return err
}

// Login exchanges operator credentials for a bearer token. 400, 401 and 403 are
// reported as ErrRejected.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	raw, err := c.do(ctx, "login", http.MethodPost, "/super-admin/login", "", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusBadRequest || se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return "", fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return "", err
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || strings.TrimSpace(body.Token) == "" {
		return "", fmt.Errorf("%w: login response has no token", ErrMalformed)
	}
	return body.Token, nil
}

func toPayload(item domain.Item) placePayload {
	return placePayload{
		Name:        item.Name,
		Description: item.Description,
		Type:        item.Category,
		Latitude:    item.Latitude,
		Longitude:   item.Longitude,
		PhotoURL:    item.PhotoURL,
	}
}

func (c *Client) do(ctx context.Context, op, method, path, token, idempotencyKey string, body any) (json.RawMessage, error) {
	start := time.Now()
	raw, status, err := c.roundTrip(ctx, method, path, token, idempotencyKey, body)
	metrics.RecordGatewayCall(op, status, time.Since(start), err)
	if err != nil {
		c.logger.Debug("gateway call failed", "op", op, "status", status, "error", err)
	}
	return raw, err
}

func (c *Client) roundTrip(ctx context.Context, method, path, token, idempotencyKey string, body any) (json.RawMessage, int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: msg}
	}
	return json.RawMessage(data), resp.StatusCode, nil
}
