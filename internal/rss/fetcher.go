package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	defaultUserAgent    = "rsspanel/1.0 RSS Reader"
	defaultMaxBodyBytes = 5 << 20
)

// FetcherConfig 抓取器配置。零值可用。
type FetcherConfig struct {
	UserAgent    string
	Timeout      time.Duration // 单次请求截止时长，0 表示只依赖调用方的 ctx
	MaxBodyBytes int64
	Client       *http.Client // 为空时创建带 cookie jar 的共享客户端
}

// Fetcher 对单个订阅源发起 HTTP GET。
// 底层 http.Client 在所有并发请求间共享，可安全并发调用。
type Fetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	maxBody   int64
}

// NewFetcher 创建抓取器。
func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.Client
	if client == nil {
		// cookiejar.New 只在 Options 不合法时出错，这里忽略即可退化为无 cookie 会话。
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		client = &http.Client{Jar: jar}
	}

	f := &Fetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		maxBody:   cfg.MaxBodyBytes,
	}
	if f.userAgent == "" {
		f.userAgent = defaultUserAgent
	}
	if f.maxBody <= 0 {
		f.maxBody = defaultMaxBodyBytes
	}
	return f
}

// Fetch 请求 src 并返回原始响应体。不做重试。
// 失败时返回 *NetworkError、*TimeoutError 或 *HTTPStatusError。
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	target, err := RequestURL(src)
	if err != nil {
		return nil, &NetworkError{URL: src.URL, Err: err}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(ctx, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 读掉少量响应体以便连接复用
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &HTTPStatusError{URL: target, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, classify(ctx, target, err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, &NetworkError{URL: target, Err: fmt.Errorf("响应体超过 %d 字节", f.maxBody)}
	}
	return body, nil
}

// RequestURL 把查询参数按表单编码拼回基础 URL。
func RequestURL(src Source) (string, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return "", fmt.Errorf("无效的订阅源地址 %q: %w", src.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("不支持的协议 %q", u.Scheme)
	}
	if len(src.Params) == 0 {
		return u.String(), nil
	}

	q := u.Query()
	for k, v := range src.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// classify 区分超时和其他传输错误。ctx 被主动取消时归为 NetworkError。
func classify(ctx context.Context, target string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: target, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{URL: target, Err: err}
	}
	return &NetworkError{URL: target, Err: err}
}
