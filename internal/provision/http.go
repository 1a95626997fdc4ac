package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxDumpSize bounds a device configuration dump read (devices serve a few
// hundred KB at most; 8MB leaves plenty of headroom).
const maxDumpSize = 8 << 20

// DeviceClient performs authenticated HTTP calls against device firmwares.
//
// All calls use basic auth and the configured per-call timeout, and are
// retried per the policy: device web servers drop connections freely while
// applying settings, so a transient failure is the normal case, not the
// exceptional one. Non-2xx statuses are logged but not treated as errors —
// Tasmota in particular answers commands it rejects with a 200 and commands
// it accepts with the occasional 500.
type DeviceClient struct {
	client   *http.Client
	username string
	password string
	retry    RetryPolicy
	logger   Logger
}

// NewDeviceClient creates a client with the given credentials and timeout.
// A zero timeout selects 10 seconds.
func NewDeviceClient(username, password string, timeout time.Duration, retry RetryPolicy) *DeviceClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &DeviceClient{
		client:   &http.Client{Timeout: timeout},
		username: username,
		password: password,
		retry:    retry,
		logger:   noopLogger{},
	}
}

// SetLogger sets a logger for request tracing.
func (c *DeviceClient) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Get performs a retried GET and returns the response body.
func (c *DeviceClient) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	err := c.retry.Run(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.username, c.password)

		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Warn("device request failed, retrying", "url", url, "error", err)
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxDumpSize))
		if err != nil {
			return err
		}

		c.logger.Debug("device response", "url", url, "status", resp.StatusCode)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrDeviceUnreachable, url, err)
	}
	return body, nil
}

// PostJSON performs a retried POST with a JSON body.
func (c *DeviceClient) PostJSON(ctx context.Context, url string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encoding payload for %s: %w", ErrTransport, url, err)
	}

	err = c.retry.Run(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.username, c.password)

		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Warn("device request failed, retrying", "url", url, "error", err)
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse

		c.logger.Debug("device response", "url", url, "status", resp.StatusCode)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: POST %s: %w", ErrDeviceUnreachable, url, err)
	}
	return nil
}

// Upload performs a retried multipart file upload.
//
// The field and filename are dictated by the receiving firmware: WLED's
// /upload endpoint stores the part under the path given as its filename.
func (c *DeviceClient) Upload(ctx context.Context, url, field, filename string, content []byte) error {
	err := c.retry.Run(ctx, func() error {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)

		part, err := writer.CreateFormFile(field, filename)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := part.Write(content); err != nil {
			return backoff.Permanent(err)
		}
		if err := writer.Close(); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.SetBasicAuth(c.username, c.password)

		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Warn("device upload failed, retrying", "url", url, "error", err)
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse

		c.logger.Debug("device response", "url", url, "status", resp.StatusCode)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: upload %s: %w", ErrDeviceUnreachable, url, err)
	}
	return nil
}

// GetTolerant performs a single GET that is allowed to fail at the
// transport level. Used for restart endpoints: the device drops the
// connection mid-response while it reboots, which is success, not failure.
func (c *DeviceClient) GetTolerant(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrTransport, url, err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("restart call dropped (expected)", "url", url, "error", err)
		return nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse

	c.logger.Debug("device response", "url", url, "status", resp.StatusCode)
	return nil
}
