// Package postgrest talks to the Supabase REST API (PostgREST) with the
// service-role key and exposes it as a store.Store.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"seminarhub/internal/store"
)

// Error is a non-2xx answer from PostgREST.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("postgrest: %d %s", e.Status, http.StatusText(e.Status))
}

// Client calls {BaseURL}/rest/v1.
type Client struct {
	BaseURL string
	Key     string
	HTTP    *http.Client
}

// New creates a client with the given per-call timeout.
func New(baseURL, key string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Key:     key,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Select(ctx context.Context, q store.Query) ([]store.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	params := filterParams(q.Filters)
	params.Set("select", "*")
	if q.Order != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		params.Set("order", q.Order+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return c.do(ctx, http.MethodGet, q.Table, params, nil)
}

// First asks for at most one row; an empty array means absence.
func (c *Client) First(ctx context.Context, q store.Query) (store.Record, bool, error) {
	rows, err := c.Select(ctx, q.Take(1))
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

func (c *Client) Insert(ctx context.Context, table string, rec store.Record) ([]store.Record, error) {
	t, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := t.Check(rec); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, table, nil, rec)
}

func (c *Client) Update(ctx context.Context, q store.Query, set store.Record) ([]store.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if len(q.Filters) == 0 {
		return nil, store.ErrUnfiltered
	}
	t, _ := store.Lookup(q.Table)
	if err := t.Check(set); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPatch, q.Table, filterParams(q.Filters), set)
}

func (c *Client) Delete(ctx context.Context, q store.Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if len(q.Filters) == 0 {
		return store.ErrUnfiltered
	}
	_, err := c.do(ctx, http.MethodDelete, q.Table, filterParams(q.Filters), nil)
	return err
}

// Health checks that the REST endpoint answers with the configured key.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.BaseURL+"/rest/v1/", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("postgrest unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("postgrest unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, table string, params url.Values, body any) ([]store.Record, error) {
	endpoint := c.BaseURL + "/rest/v1/" + table
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", table, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postgrest request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read postgrest response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp.StatusCode, raw)
	}
	out := []store.Record{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.Key)
	req.Header.Set("Authorization", "Bearer "+c.Key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func decodeError(status int, raw []byte) error {
	e := &Error{Status: status}
	if err := json.Unmarshal(raw, e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}

func filterParams(filters []store.Filter) url.Values {
	params := url.Values{}
	for _, f := range filters {
		switch f.Op {
		case store.OpIsNull:
			params.Add(f.Column, "is.null")
		default:
			params.Add(f.Column, "eq."+formatValue(f.Value))
		}
	}
	return params
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
