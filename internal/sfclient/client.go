// Package sfclient talks to the SuccessFactors OData v2 API through the
// AppRouter reverse proxy.
//
// The AppRouter owns the session cookie; this package only carries it (via
// the http.Client cookie jar) and manages the CSRF token that every
// state-changing request needs.
package sfclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"review-sync-backend/internal/config"
	"review-sync-backend/internal/metrics"
	"review-sync-backend/internal/model"
	"review-sync-backend/pkg/logger"
)

const (
	headerCSRFToken = "x-csrf-token"
	csrfFetch       = "Fetch"
)

// Request 是一次上游调用。retried 标记该请求已经因 403 重发过一次
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	retried bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode 直接反序列化响应体
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// DecodeD 解开 OData v2 的 {"d": ...} 外层后反序列化
func (r *Response) DecodeD(v any) error {
	var env model.ODataEnvelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return fmt.Errorf("decode odata envelope: %w", err)
	}
	if len(env.D) == 0 {
		return errors.New("decode odata envelope: missing \"d\"")
	}
	return json.Unmarshal(env.D, v)
}

type Client struct {
	http    *http.Client
	base    *url.URL
	session *Session

	tokenPath     string
	tokenWait     time.Duration
	fetchAttempts int
}

// NewClient 创建上游客户端。session 由调用方持有，测试中可为每个用例创建独立的 Session
func NewClient(cfg config.SFConfig, httpClient *http.Client, session *Session) (*Client, error) {
	raw := cfg.BaseURL
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse sf.base_url: %w", err)
	}
	if session == nil {
		session = NewSession()
	}

	c := &Client{
		http:          httpClient,
		base:          base,
		session:       session,
		tokenPath:     cfg.TokenPath,
		tokenWait:     cfg.TokenWaitTimeout,
		fetchAttempts: cfg.TokenFetchAttempts,
	}
	if c.tokenPath == "" {
		c.tokenPath = "user-api/currentUser"
	}
	if c.tokenWait <= 0 {
		c.tokenWait = 10 * time.Second
	}
	if c.fetchAttempts < 1 {
		c.fetchAttempts = 1
	}
	return c, nil
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Prefetch 预先获取 CSRF token
func (c *Client) Prefetch(ctx context.Context) error {
	_, err := c.acquireToken(ctx)
	return err
}

// Do 发送请求。写请求自动附带 CSRF token；收到 403 时刷新 token 并且只重发一次。
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}
	// 重试标记只作用于本次调用，调用方的 Request 可以重复使用
	call := *req
	call.retried = false
	return c.do(ctx, &call, body)
}

func (c *Client) do(ctx context.Context, req *Request, body []byte) (*Response, error) {
	var token string
	if mutating(req.Method) || req.retried {
		var err error
		token, err = c.acquireToken(ctx)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.send(ctx, req, body, token)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		if req.retried {
			return nil, fmt.Errorf("%w: %s %s rejected after token refresh", ErrAuthExpired, req.Method, req.Path)
		}
		logger.WithFields(logger.Fields{
			"method": req.Method,
			"path":   req.Path,
		}).Warn("request forbidden, refreshing csrf token and retrying once")

		req.retried = true
		c.session.invalidate(token)
		metrics.AuthRetries.Inc()
		return c.do(ctx, req, body)

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s %s returned 401", ErrAuthExpired, req.Method, req.Path)

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &TransportError{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
			Body:       excerpt(resp.Body),
		}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req *Request, body []byte, token string) (*Response, error) {
	target := c.resolve(req.Path, req.Query)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	httpReq.Header.Set("X-SF-Session-Verify", "1")
	if token != "" {
		httpReq.Header.Set(headerCSRFToken, token)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(req.Method, metrics.StatusClass(0)).Inc()
		return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Path: req.Path, StatusCode: httpResp.StatusCode, Err: err}
	}

	metrics.UpstreamRequests.WithLabelValues(req.Method, metrics.StatusClass(httpResp.StatusCode)).Inc()
	logger.Debugf("%s %s -> %d (%s)", req.Method, req.Path, httpResp.StatusCode, time.Since(start))

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// acquireToken 返回缓存的 token，没有时发起（或加入正在进行的）获取。
// 等待受 token_wait_timeout 与 ctx 约束。
func (c *Client) acquireToken(ctx context.Context) (string, error) {
	if t := c.session.Token(); t != "" {
		return t, nil
	}

	ch := c.session.fetch.DoChan("csrf", func() (any, error) {
		// 前一次获取可能刚刚完成
		if t := c.session.Token(); t != "" {
			return t, nil
		}

		// 获取过程不随单个调用方的 ctx 取消，其他等待者仍需要结果
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.tokenWait)
		defer cancel()

		var lastErr error
		for attempt := 1; attempt <= c.fetchAttempts; attempt++ {
			token, err := c.fetchToken(fctx)
			if err == nil {
				metrics.TokenFetches.WithLabelValues("ok").Inc()
				c.session.set(token)
				return token, nil
			}
			metrics.TokenFetches.WithLabelValues("error").Inc()
			logger.Warnf("csrf token fetch attempt %d/%d failed: %v", attempt, c.fetchAttempts, err)
			lastErr = err
		}
		return "", lastErr
	})

	timer := time.NewTimer(c.tokenWait)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("%w: fetch csrf token: %v", ErrAuthExpired, res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("%w: timed out waiting for csrf token", ErrAuthExpired)
	}
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(c.tokenPath, nil), nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set(headerCSRFToken, csrfFetch)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	httpReq.Header.Set("X-SF-Session-Verify", "1")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
	token := resp.Header.Get(headerCSRFToken)
	if token == "" || strings.EqualFold(token, "required") {
		return "", errors.New("token endpoint returned no csrf token")
	}
	logger.Debugf("csrf token acquired from %s", c.tokenPath)
	return token, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	path = strings.TrimPrefix(path, "/")
	// OData 键谓词中的括号与引号按原样发送
	ref := &url.URL{Path: path, RawPath: path}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

func mutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, "MERGE":
		return true
	default:
		return false
	}
}

// odataKey 格式化 Edm.Int64 键值，例如 501 -> "501L"
func odataKey(id int64) string {
	return strconv.FormatInt(id, 10) + "L"
}

// odataString 转义 OData 字符串字面量中的单引号
func odataString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
