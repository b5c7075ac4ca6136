package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin REST client for the gateway's HTTP surface (spec §6).
// Grounded on the teacher's cmd/cli mode dispatch, narrowed from an
// in-process REPL driving an AgentLoop directly to a client that only
// speaks the same HTTP contract any external caller does — the admin CLI
// has no privileged path into the runtime.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// apiError mirrors pkg/errors.AppError's wire shape so CLI output reads
// the same validation/not-found/etc. messages a programmatic caller sees.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-SECRET", c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}

	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *Client) Get(path string, out any) error         { return c.do(http.MethodGet, path, nil, out) }
func (c *Client) Post(path string, body, out any) error  { return c.do(http.MethodPost, path, body, out) }
func (c *Client) Put(path string, body, out any) error   { return c.do(http.MethodPut, path, body, out) }
func (c *Client) Patch(path string, body, out any) error { return c.do(http.MethodPatch, path, body, out) }
func (c *Client) Delete(path string) error                { return c.do(http.MethodDelete, path, nil, nil) }
