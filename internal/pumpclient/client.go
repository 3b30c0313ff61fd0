// Package pumpclient drives one print-server board over its REST API:
// connect/disconnect, job cancel, G-code upload and job-status polling.
// One Client instance is created per board (per config.PrintServerConfig).
package pumpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"evolverd/internal/config"
	"evolverd/internal/rigclock"
)

// Client talks to one print-server board.
type Client struct {
	server config.PrintServerConfig
	http   *http.Client
	clock  rigclock.Clock
}

// New builds a Client for server using httpClient (http.DefaultClient if
// nil) and the real clock.
func New(server config.PrintServerConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{server: server, http: httpClient, clock: rigclock.Real()}
}

// WithClock overrides the back-off clock, for deterministic tests.
func (c *Client) WithClock(clock rigclock.Clock) *Client {
	c.clock = clock
	return c
}

func (c *Client) url(path string) string {
	return c.server.BaseURL + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	if c.server.APIKey != "" {
		req.Header.Set("X-Api-Key", c.server.APIKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) doCommand(ctx context.Context, op, path, command string) error {
	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json")
	if err != nil {
		return &OctoPrintError{Server: c.server.BaseURL, Op: op, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &OctoPrintError{Server: c.server.BaseURL, Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &OctoPrintError{Server: c.server.BaseURL, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	return nil
}

// Connect issues the connection open command.
func (c *Client) Connect(ctx context.Context) error {
	return c.doCommand(ctx, "connect", "/api/connection", "connect")
}

// Disconnect issues the connection close command.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.doCommand(ctx, "disconnect", "/api/connection", "disconnect")
}

// Cancel aborts the active job.
func (c *Client) Cancel(ctx context.Context) error {
	return c.doCommand(ctx, "cancel", "/api/job", "cancel")
}

// PostGCode uploads the file at path and starts printing it. The server's
// upload-accepted response is decoded with a "done" key; on a transient
// decode failure (the key is briefly missing while the server is still
// processing the upload) it retries once a second, up to maxAttempts
// times, before giving up with OctoPrintError.
func (c *Client) PostGCode(ctx context.Context, path string, maxAttempts int) error {
	file, err := os.Open(path)
	if err != nil {
		return &OctoPrintError{Server: c.server.BaseURL, Op: "post_gcode", Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return &OctoPrintError{Server: c.server.BaseURL, Op: "post_gcode", Err: err}
	}

	return retryDecode(c.clock, maxAttempts, func() error {
		return c.postGCodeOnce(ctx, path, data)
	})
}

func (c *Client) postGCodeOnce(ctx context.Context, path string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("print", "true"); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/files/local", &buf, mw.FormDataContentType())
	if err != nil {
		return &OctoPrintError{Server: c.server.BaseURL, Op: "post_gcode", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &OctoPrintError{Server: c.server.BaseURL, Op: "post_gcode", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &OctoPrintError{Server: c.server.BaseURL, Op: "post_gcode", Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	var decoded gcodeDecodeResult
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil || !decoded.Done {
		return &OctoPrintError{Server: c.server.BaseURL, Op: "post_gcode", Err: errMissingDoneKey}
	}
	return nil
}

// Status fetches the current job status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/job", nil, "")
	if err != nil {
		return StatusResponse{}, &OctoPrintError{Server: c.server.BaseURL, Op: "status", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return StatusResponse{}, &OctoPrintError{Server: c.server.BaseURL, Op: "status", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return StatusResponse{}, &OctoPrintError{Server: c.server.BaseURL, Op: "status", Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return StatusResponse{}, &OctoPrintError{Server: c.server.BaseURL, Op: "status", Err: err}
	}
	return status, nil
}
