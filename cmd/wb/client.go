package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/workboard/workboard/internal/config"
	"github.com/workboard/workboard/internal/debug"
	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/server"
	"github.com/workboard/workboard/internal/types"
)

// Client talks to a workboard server on behalf of one requester.
type Client struct {
	base      string
	http      *http.Client
	requester types.Requester
}

// NewClient returns a client for base acting as req.
func NewClient(base string, req types.Requester) *Client {
	return &Client{
		base:      strings.TrimRight(base, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		requester: req,
	}
}

// newClientFromConfig builds a client from server.url and the configured
// identity.
func newClientFromConfig() *Client {
	return NewClient(config.GetString("server.url"), config.Requester())
}

// do sends body as JSON and decodes a 2xx response into out. Error bodies
// come back as *types.Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	server.SetRequester(req.Header, c.requester)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	debug.Logf("%s %s -> %d (%s)\n", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode >= 300 {
		var eb struct {
			Error   *types.Error         `json:"error"`
			Created []*lifecycle.Created `json:"created"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Error == nil {
			return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
		}
		if len(eb.Created) > 0 {
			return &partialBatchError{err: eb.Error, created: eb.Created}
		}
		return eb.Error
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// partialBatchError is a batch create that failed after committing created.
type partialBatchError struct {
	err     *types.Error
	created []*lifecycle.Created
}

func (e *partialBatchError) Error() string { return e.err.Error() }

func (e *partialBatchError) Unwrap() error { return e.err }

func boardPath(board int64, format string, args ...any) string {
	return fmt.Sprintf("/boards/%d", board) + fmt.Sprintf(format, args...)
}

func taskPath(board int64, identifier, suffix string) string {
	return boardPath(board, "/tasks/%s%s", url.PathEscape(identifier), suffix)
}

// requireBoard returns the configured board or an error naming the flag.
func requireBoard() (int64, error) {
	id := config.GetInt64("board")
	if id <= 0 {
		return 0, types.NewValidation("board", "no board selected; pass --board or set board in %s/config.yaml", config.Dir)
	}
	return id, nil
}
