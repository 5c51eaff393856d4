package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/resilience"
)

// ClientConfig configures the model server client.
type ClientConfig struct {
	BaseURL string
	Model   string
	Epoch   int
	Timeout time.Duration
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
	Metrics *metrics.Metrics
}

// Client talks to a model server that holds the trained encoders.
type Client struct {
	baseURL   string
	model     string
	epoch     int
	dimension int
	client    *http.Client
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type loadRequest struct {
	Model string `json:"model"`
	Epoch int    `json:"epoch"`
}

type loadResponse struct {
	Model     string `json:"model"`
	Epoch     int    `json:"epoch"`
	Dimension int    `json:"dimension"`
}

type descRequest struct {
	Tokens []int `json:"tokens"`
}

type codeRequest struct {
	Name   []int `json:"name"`
	API    []int `json:"api"`
	Tokens []int `json:"tokens"`
}

type vectorResponse struct {
	Vector []float32 `json:"vector"`
}

// statusError is a non-2xx reply from the model server.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("model server returned %d: %s", e.code, e.body)
}

// NewClient asks the server at cfg.BaseURL to load the checkpoint of
// cfg.Model at cfg.Epoch. An unknown model or epoch is apperrors.ErrModelLoad.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: model server URL is empty", apperrors.ErrConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		epoch:   cfg.Epoch,
		client:  &http.Client{Timeout: cfg.Timeout},
		retry:   cfg.Retry,
		metrics: cfg.Metrics,
		logger:  logger.WithComponent("embedder-client"),
	}
	breakerCfg := cfg.Breaker
	if m := cfg.Metrics; m != nil && breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		}
	}
	c.breaker = resilience.NewCircuitBreaker("embedder", breakerCfg)

	var resp loadResponse
	if err := c.call(ctx, "load", "/v1/models/load", loadRequest{Model: cfg.Model, Epoch: cfg.Epoch}, &resp); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrModelLoad, err, "model %s epoch %d", cfg.Model, cfg.Epoch)
	}
	if resp.Dimension <= 0 {
		return nil, fmt.Errorf("%w: model server reported dimension %d", apperrors.ErrModelLoad, resp.Dimension)
	}
	c.dimension = resp.Dimension
	c.logger.Info("model loaded on server",
		"url", c.baseURL,
		"model", cfg.Model,
		"epoch", cfg.Epoch,
		"dimension", resp.Dimension,
	)
	return c, nil
}

func (c *Client) EncodeText(ctx context.Context, desc []int) ([]float32, error) {
	var resp vectorResponse
	if err := c.call(ctx, "encode_desc", "/v1/encode/desc", descRequest{Tokens: desc}, &resp); err != nil {
		return nil, c.encodeError("encode_desc", err)
	}
	return c.checkVector(resp.Vector)
}

func (c *Client) EncodeCode(ctx context.Context, name, api, tokens []int) ([]float32, error) {
	var resp vectorResponse
	req := codeRequest{Name: name, API: api, Tokens: tokens}
	if err := c.call(ctx, "encode_code", "/v1/encode/code", req, &resp); err != nil {
		return nil, c.encodeError("encode_code", err)
	}
	return c.checkVector(resp.Vector)
}

func (c *Client) Dimension() int {
	return c.dimension
}

func (c *Client) ModelName() string {
	return c.model
}

func (c *Client) encodeError(op string, err error) error {
	if c.metrics != nil {
		c.metrics.EmbedderFailuresTotal.WithLabelValues(op).Inc()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Wrapf(apperrors.ErrEncoding, err, "%s", op)
}

func (c *Client) checkVector(v []float32) ([]float32, error) {
	if len(v) != c.dimension {
		return nil, fmt.Errorf("%w: model server returned %d components, want %d",
			apperrors.ErrEncoding, len(v), c.dimension)
	}
	return v, nil
}

// call posts body to path and decodes the JSON reply into out. Transport
// failures and 5xx replies are retried behind the circuit breaker; 4xx
// replies fail at once and do not trip the breaker.
func (c *Client) call(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", op, err)
	}
	isClientError := func(err error) bool {
		var se *statusError
		return errors.As(err, &se) && se.code < 500
	}
	return resilience.Retry(ctx, "embedder."+op, c.retry, func() error {
		err := c.breaker.ExecuteIgnoring(func() error {
			return c.post(ctx, path, payload, out)
		}, isClientError)
		if isClientError(err) || errors.Is(err, resilience.ErrCircuitOpen) {
			return resilience.Permanent(err)
		}
		return err
	})
}

func (c *Client) post(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
