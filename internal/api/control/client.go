package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// Client is a control API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client for the server at baseURL. httpClient may be nil.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// Submit sends a command.
func (c *Client) Submit(ctx context.Context, req CommandRequest) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/commands", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// SetQueue replaces the play queue.
func (c *Client) SetQueue(ctx context.Context, req QueueRequest) error {
	resp, err := c.do(ctx, http.MethodPut, "/v1/queue", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// State returns the current snapshot.
func (c *Client) State(ctx context.Context) (StateView, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/state", nil)
	if err != nil {
		return StateView{}, err
	}
	defer resp.Body.Close()

	var view StateView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return StateView{}, errors.Wrap(err, "failed to decode state")
	}
	return view, nil
}

// Stream calls fn for every snapshot until ctx ends, the server closes the stream or fn
// returns an error.
func (c *Client) Stream(ctx context.Context, fn func(StateView) error) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/state/stream", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var view StateView
		if err := json.Unmarshal(scanner.Bytes(), &view); err != nil {
			return errors.Wrap(err, "failed to decode state")
		}
		if err := fn(view); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "stream interrupted")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request failed: %s %s", method, path)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return nil, errors.Newf("%s %s: %s", method, path, resp.Status)
		}
		return nil, errors.Newf("%s %s: %s", method, path, e.Error)
	}
	return resp, nil
}
