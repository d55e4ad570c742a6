// Package remote implements store.Remote over the remote store's JSON HTTP
// API. Every call is bounded by the client timeout; timeouts and transport
// failures are reported as transient so the retry policy can take over.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/wire"
)

// DefaultTimeout bounds each remote call.
const DefaultTimeout = 30 * time.Second

// Store is an HTTP client for the remote authoritative store.
type Store struct {
	baseURL string
	client  *http.Client
}

// New returns a client for the store at baseURL (no trailing slash needed).
// A zero timeout falls back to DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *Store) Collection(t models.EntityType) store.Collection {
	return &collection{store: s, entity: t}
}

// IsReachable probes the store's ping endpoint.
func (s *Store) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/ping", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// PurgeTombstones asks the remote store to drop tombstones older than the
// cutoff and returns how many were purged.
func (s *Store) PurgeTombstones(ctx context.Context, accountID string, olderThan time.Time) (int, error) {
	u := fmt.Sprintf("%s/accounts/%s/tombstones?older_than=%s",
		s.baseURL, url.PathEscape(accountID), url.QueryEscape(olderThan.UTC().Format(time.RFC3339Nano)))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Purged int `json:"purged"`
	}
	if err := s.do(req, http.StatusOK, &out); err != nil {
		return 0, err
	}
	return out.Purged, nil
}

func (s *Store) do(req *http.Request, wantStatus int, out any) error {
	req.Header.Set("Accept", "application/json")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		// Transport errors and timeouts are transient by definition here;
		// the caller's retry policy decides what to do with them.
		return fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, common.ErrTransient)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case wantStatus:
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, common.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, common.ErrAlreadyExists)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("%s %s: unexpected status %s: %s", req.Method, req.URL.Path, resp.Status, body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%v: %w", err, common.ErrTransient)
		}
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type collection struct {
	store  *Store
	entity models.EntityType
}

func (c *collection) url(accountID string, id string) string {
	u := fmt.Sprintf("%s/accounts/%s/%s", c.store.baseURL, url.PathEscape(accountID), url.PathEscape(string(c.entity)))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *collection) GetAll(ctx context.Context, accountID string) ([]models.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(accountID, ""), nil)
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := c.store.do(req, http.StatusOK, &raw); err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(raw))
	for _, doc := range raw {
		rec, err := wire.FromRemoteShape(c.entity, doc)
		if err != nil {
			return nil, fmt.Errorf("bad %s document: %w", c.entity, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *collection) GetByID(ctx context.Context, id, accountID string) (models.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(accountID, id), nil)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.store.do(req, http.StatusOK, &raw); err != nil {
		return nil, err
	}
	return wire.FromRemoteShape(c.entity, raw)
}

func (c *collection) Add(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	body, err := wire.ToRemoteShape(rec)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(accountID, ""), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.store.do(req, http.StatusCreated, &raw); err != nil {
		return nil, err
	}
	return wire.FromRemoteShape(c.entity, raw)
}

func (c *collection) Update(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	body, err := wire.ToRemoteShape(rec)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(accountID, rec.GetID()), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.store.do(req, http.StatusOK, &raw); err != nil {
		return nil, err
	}
	return wire.FromRemoteShape(c.entity, raw)
}

func (c *collection) Delete(ctx context.Context, id, accountID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url(accountID, id), nil)
	if err != nil {
		return "", err
	}
	if err := c.store.do(req, http.StatusOK, nil); err != nil {
		return "", err
	}
	return id, nil
}
