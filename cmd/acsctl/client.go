package main

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

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/store"
)

// apiClient talks to the acsd HTTP control API
type apiClient struct {
	base   string
	apiKey string
	http   *http.Client
}

// apiError is a non-2xx answer from acsd
type apiError struct {
	Status  int
	Message string `json:"error"`
	Details string `json:"details"`
}

func (e *apiError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func newAPIClient(addr, apiKey string, hc *http.Client) *apiClient {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &apiClient{base: strings.TrimRight(addr, "/"), apiKey: apiKey, http: hc}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request to acsd failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func ifacePath(iface string) string {
	return "/api/interfaces/" + url.PathEscape(iface)
}

func (c *apiClient) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil, &out)
	return out, err
}

func (c *apiClient) Interfaces(ctx context.Context) ([]acs.SessionStatus, error) {
	var out struct {
		Interfaces []acs.SessionStatus `json:"interfaces"`
	}
	_, err := c.do(ctx, http.MethodGet, "/api/interfaces", nil, &out)
	return out.Interfaces, err
}

func (c *apiClient) Status(ctx context.Context, iface string) (*acs.SessionStatus, error) {
	var out acs.SessionStatus
	if _, err := c.do(ctx, http.MethodGet, ifacePath(iface)+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) DoACS(ctx context.Context, iface string, req *acs.Request) (*acs.Outcome, error) {
	var out acs.Outcome
	if _, err := c.do(ctx, http.MethodPost, ifacePath(iface)+"/acs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Reselect(ctx context.Context, iface, reason string) (*acs.Outcome, error) {
	var out acs.Outcome
	body := map[string]interface{}{"reason": reason}
	if _, err := c.do(ctx, http.MethodPost, ifacePath(iface)+"/reselect", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Radar(ctx context.Context, iface string, freq uint32) (*acs.Outcome, error) {
	var out acs.Outcome
	body := map[string]interface{}{"freq": freq}
	if _, err := c.do(ctx, http.MethodPost, ifacePath(iface)+"/radar", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Remove(ctx context.Context, iface string) error {
	_, err := c.do(ctx, http.MethodDelete, ifacePath(iface)+"/", nil, nil)
	return err
}

func (c *apiClient) Reply(ctx context.Context, jobID string, freq uint32) error {
	body := map[string]interface{}{"job_id": jobID, "freq": freq}
	_, err := c.do(ctx, http.MethodPost, "/api/acs/reply", body, nil)
	return err
}

func (c *apiClient) Connections(ctx context.Context) ([]acs.Connection, error) {
	var out acs.ConnectionSnapshot
	_, err := c.do(ctx, http.MethodGet, "/api/connections", nil, &out)
	return out.Connections, err
}

func (c *apiClient) SetConnection(ctx context.Context, conn acs.Connection) error {
	_, err := c.do(ctx, http.MethodPut, "/api/connections/"+url.PathEscape(conn.Iface), conn, nil)
	return err
}

func (c *apiClient) DeleteConnection(ctx context.Context, iface string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/connections/"+url.PathEscape(iface), nil, nil)
	return err
}

func (c *apiClient) History(ctx context.Context, iface string, limit int) ([]store.HistoryEntry, error) {
	q := url.Values{}
	if iface != "" {
		q.Set("iface", iface)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Entries []store.HistoryEntry `json:"entries"`
	}
	_, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Entries, err
}
