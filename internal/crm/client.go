// Package crm is the remote fetch adapter for the Bitrix24 REST API. Read
// operations normalize every failure to an absent result; write operations
// surface failures as errors wrapping ErrRemote.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	crmwire "helpdesk-sync/contracts/crm"
	"helpdesk-sync/pkg/circuitbreaker"
	"helpdesk-sync/pkg/config"
	"helpdesk-sync/pkg/metrics"
	"helpdesk-sync/pkg/trace"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrRemote 远端调用失败（传输错误、非 2xx、error 响应或缺少 result）
var ErrRemote = errors.New("crm: remote call failed")

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultDownloadTimeout = 60 * time.Second
	defaultUserCacheTTL    = 10 * time.Minute
)

// Client 调用远端 CRM。REST 调用和附件下载各用一个熔断器，
// 附件地址失效不会影响实体读取
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	downloadCB *circuitbreaker.CircuitBreaker
	cache      *redis.Client
	cfg        config.CRMConfig
	logger     *zap.Logger
}

// Option 用于测试注入
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient 创建客户端；cache 为 nil 时不缓存用户
func NewClient(cfg config.CRMConfig, cache *redis.Client, logger *zap.Logger, opts ...Option) *Client {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.UserCacheTTL <= 0 {
		cfg.UserCacheTTL = defaultUserCacheTTL
	}

	c := &Client{
		baseURL:    normalizeBaseURL(cfg.WebhookURL),
		httpClient: &http.Client{},
		cache:      cache,
		cfg:        cfg,
		logger:     logger,
	}

	cbConfig := circuitbreaker.DefaultConfig()
	if cfg.FailureThreshold > 0 {
		cbConfig.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.OpenTimeout > 0 {
		cbConfig.Timeout = cfg.OpenTimeout
	}
	c.cb = circuitbreaker.NewCircuitBreaker(withStateLog(cbConfig, "rest", logger))
	c.downloadCB = circuitbreaker.NewCircuitBreaker(withStateLog(cbConfig, "download", logger))

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// normalizeBaseURL 去掉结尾斜杠，缺少协议时补 https://
func withStateLog(cfg circuitbreaker.Config, name string, logger *zap.Logger) circuitbreaker.Config {
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("CRM circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	return cfg
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return raw
}

// remoteError 是远端明确拒绝的请求，不计入熔断
type remoteError struct {
	method string
	status int
	code   string
	desc   string
}

func (e *remoteError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.method, e.code, e.desc)
	}
	return fmt.Sprintf("%s: status %d", e.method, e.status)
}

// call 发起一次远端调用并返回 result 字段。GET 用 query，POST 用 JSON body
func (c *Client) call(ctx context.Context, method, httpMethod string, params url.Values, body any, timeout time.Duration) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: webhook url not configured", ErrRemote)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result json.RawMessage
	var rejected error

	err := c.cb.Execute(func() error {
		start := time.Now()
		req, err := c.newRequest(ctx, method, httpMethod, params, body)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		latency := time.Since(start)
		if err != nil {
			metrics.RecordCRMCallLatency(method, "error", latency)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			metrics.RecordCRMCallLatency(method, "5xx", latency)
			return fmt.Errorf("%s: status %d", method, resp.StatusCode)
		}

		var env crmwire.Envelope
		decodeErr := json.NewDecoder(resp.Body).Decode(&env)

		switch {
		case env.Error != "":
			metrics.RecordCRMCallLatency(method, "rejected", latency)
			rejected = &remoteError{method: method, status: resp.StatusCode, code: env.Error, desc: env.ErrorDescription}
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			metrics.RecordCRMCallLatency(method, fmt.Sprintf("%d", resp.StatusCode), latency)
			rejected = &remoteError{method: method, status: resp.StatusCode}
		case decodeErr != nil:
			metrics.RecordCRMCallLatency(method, "decode_error", latency)
			rejected = fmt.Errorf("%s: decode response: %w", method, decodeErr)
		case !env.HasResult():
			metrics.RecordCRMCallLatency(method, "empty", latency)
			rejected = fmt.Errorf("%s: response without result", method)
		default:
			metrics.RecordCRMCallLatency(method, "success", latency)
			result = env.Result
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRemote, method, err)
	}
	if rejected != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, rejected)
	}
	return result, nil
}

func (c *Client) newRequest(ctx context.Context, method, httpMethod string, params url.Values, body any) (*http.Request, error) {
	endpoint := c.baseURL + "/" + method + ".json"

	var req *http.Request
	var err error
	if httpMethod == http.MethodGet {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	} else {
		b, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return nil, marshalErr
		}
		req, err = http.NewRequestWithContext(ctx, httpMethod, endpoint, bytes.NewReader(b))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName(), traceID)
	}
	return req, nil
}

// get 是读路径的调用，失败统一记 warn 并返回 nil
func (c *Client) get(ctx context.Context, method string, params url.Values) json.RawMessage {
	result, err := c.call(ctx, method, http.MethodGet, params, nil, c.cfg.ReadTimeout)
	if err != nil {
		c.logger.Warn("CRM read returned no result",
			zap.String("method", method),
			zap.String("trace_id", trace.FromContext(ctx)),
			zap.Error(err))
		return nil
	}
	return result
}

// post 是写路径的调用
func (c *Client) post(ctx context.Context, method string, body any) (json.RawMessage, error) {
	return c.call(ctx, method, http.MethodPost, nil, body, c.cfg.WriteTimeout)
}

// resolveURL 把相对地址补全为远端站点的绝对地址
func (c *Client) resolveURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return raw, nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// drain 丢弃剩余响应体以复用连接
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
}
