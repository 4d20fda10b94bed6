package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Boendestodet/r3kt.dev-sub000/config"
	"github.com/Boendestodet/r3kt.dev-sub000/metrics"
)

const maxResponseBytes = 16 << 20

// client is the transport shared by the HTTP adapters.
type client struct {
	name       string
	cfg        config.ProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func newClient(name string, cfg config.ProviderConfig, logger *zap.Logger) *client {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &client{
		name:       name,
		cfg:        cfg,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.Named(name),
	}
}

func (c *client) Name() string { return c.name }

func (c *client) IsConfigured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != "" && c.cfg.BaseURL != ""
}

func (c *client) model(override string) string {
	if override != "" {
		return override
	}
	return c.cfg.Model
}

func (c *client) endpoint(parts ...string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.Join(parts, "/")
}

// postJSON sends body and decodes a 2xx response into out. The call waits on
// the rate limiter and is bounded by the provider timeout.
func (c *client) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) (err error) {
	if !c.IsConfigured() {
		return newError(c.name, KindNotConfigured, errors.New("missing API key"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	started := time.Now()
	defer func() { metrics.ObserveProviderCall(c.name, err, time.Since(started)) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return newError(c.name, KindTimeout, fmt.Errorf("rate limiter: %w", err))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return newError(c.name, KindMalformed, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return newError(c.name, KindTransport, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newError(c.name, transportKind(ctx, err), fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return newError(c.name, transportKind(ctx, err), fmt.Errorf("read response body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newError(c.name, KindAuth, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return newError(c.name, KindTransport, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return newError(c.name, KindMalformed, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// files parses the model's text output, wrapping failures as malformed.
func (c *client) files(text string) (map[string]string, error) {
	files, err := ParseFileMap(text)
	if err != nil {
		c.logger.Warn("unparseable response", zap.Error(err), zap.Int("length", len(text)))
		return nil, newError(c.name, KindMalformed, err)
	}
	return files, nil
}

func transportKind(ctx context.Context, err error) Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
