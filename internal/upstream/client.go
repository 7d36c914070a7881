// Package upstream talks to the user-record API and the avatar CDN. Every call
// is a single attempt: failures are returned to the caller without retrying.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/avatar-hub/avatar-hub/internal/avatar"
	"github.com/avatar-hub/avatar-hub/internal/logging"
)

// DefaultUserAgent 是未配置时使用的客户端标识。
const DefaultUserAgent = "AvatarServer/1.0"

// maxUserBodyBytes 限制用户资料响应的读取量，正常响应远小于该值。
const maxUserBodyBytes = 1 << 20

// Options 描述上游地址与鉴权信息。
type Options struct {
	UserEndpoint  string
	AvatarBaseURL string
	Authorization string
	UserAgent     string
	// MinInterval 大于 0 时，相邻两次用户资料请求至少间隔该时长；头像下载不受限。
	MinInterval time.Duration
	// WaitTimeout 限制等待限流令牌的最长时间，超时返回 KindThrottled。
	WaitTimeout time.Duration
}

// User 是用户资料中本服务关心的部分。
type User struct {
	ID     string
	Avatar string
}

// Client 复用共享 http.Client 访问上游。
type Client struct {
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// New 构造上游客户端；httpClient 为空时使用 http.DefaultClient。
func New(httpClient *http.Client, opts Options, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = logging.Discard()
	}
	client := &Client{
		http:   httpClient,
		opts:   opts,
		logger: logger,
	}
	if opts.MinInterval > 0 {
		client.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return client
}

// AvatarURL 组装 {avatarBase}/{hash}.{ext}{query}。
func (c *Client) AvatarURL(hash string, params avatar.Params) string {
	return avatar.URL(c.opts.AvatarBaseURL, hash, params)
}

// FetchUser 携带 Authorization 与 User-Agent 请求用户资料，并提取头像 hash。
// 非 200 返回 KindUserFetchFailed；响应不可解析或缺少头像字段返回 KindMalformedResponse。
func (c *Client) FetchUser(ctx context.Context) (User, error) {
	if err := c.wait(ctx); err != nil {
		return User{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.UserEndpoint, nil)
	if err != nil {
		return User{}, &Error{Kind: KindUserFetchFailed, Err: err}
	}
	req.Header.Set("Authorization", c.opts.Authorization)
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithFields(logging.UpstreamFields("user", c.opts.UserEndpoint, 0)).
			WithError(err).Warn("upstream_failed")
		return User{}, &Error{Kind: KindUserFetchFailed, Err: err}
	}
	defer resp.Body.Close()

	c.logger.WithFields(logging.UpstreamFields("user", c.opts.UserEndpoint, resp.StatusCode)).Debug("upstream_complete")
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxUserBodyBytes))
		return User{}, &Error{Kind: KindUserFetchFailed, Status: resp.StatusCode}
	}

	var record struct {
		ID     string  `json:"id"`
		Avatar *string `json:"avatar"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserBodyBytes)).Decode(&record); err != nil {
		return User{}, &Error{Kind: KindMalformedResponse, Status: resp.StatusCode, Err: fmt.Errorf("decode user record: %w", err)}
	}
	if record.Avatar == nil || *record.Avatar == "" {
		return User{}, &Error{Kind: KindMalformedResponse, Status: resp.StatusCode, Err: errors.New("user record missing avatar hash")}
	}

	return User{ID: record.ID, Avatar: *record.Avatar}, nil
}

// FetchAvatarBytes 不携带鉴权头下载头像，非 200 返回 KindAvatarFetchFailed。
// 头像属于同一次刷新，不再消耗限流令牌。
func (c *Client) FetchAvatarBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindAvatarFetchFailed, Err: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithFields(logging.UpstreamFields("avatar", url, 0)).
			WithError(err).Warn("upstream_failed")
		return nil, &Error{Kind: KindAvatarFetchFailed, Err: err}
	}
	defer resp.Body.Close()

	c.logger.WithFields(logging.UpstreamFields("avatar", url, resp.StatusCode)).Debug("upstream_complete")
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &Error{Kind: KindAvatarFetchFailed, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindAvatarFetchFailed, Status: resp.StatusCode, Err: fmt.Errorf("read avatar body: %w", err)}
	}
	return body, nil
}

// wait 在启用限流时为用户资料请求等待令牌，等待时间受 WaitTimeout 约束。
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if c.opts.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.WaitTimeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindThrottled, Err: err}
	}
	return nil
}
