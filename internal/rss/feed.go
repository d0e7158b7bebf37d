// Package rss 负责订阅源的抓取、解析、定时刷新以及分页视图。
package rss

import (
	"fmt"
	"strings"
	"time"
)

// Source 一个配置好的订阅源地址。查询参数已从 URL 中拆出。
type Source struct {
	Raw    string            `json:"raw"`
	URL    string            `json:"url"`
	Params map[string]string `json:"params,omitempty"`
}

// FeedItem 一篇文章。
type FeedItem struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Feed 单个订阅源的解析结果。发布后不再修改。
type Feed struct {
	PublisherTitle string     `json:"publisher_title"`
	Items          []FeedItem `json:"items"`
}

// ParseSource 将配置里的地址拆成基础 URL 和查询参数。
// 先按第一个 ? 拆分，再按 & 拆成键值对，每对按第一个 = 拆分；
// 值原样保留，不做转义或反转义。
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, &ConfigError{Field: "feeds", Message: "订阅源地址为空"}
	}

	src := Source{Raw: raw, URL: raw, Params: map[string]string{}}
	base, query, found := strings.Cut(raw, "?")
	if !found {
		return src, nil
	}
	src.URL = base

	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		src.Params[key] = value
	}
	return src, nil
}

// ParseSources 按顺序解析全部地址，任何一个无效都会返回 ConfigError。
func ParseSources(raws []string) ([]Source, error) {
	sources := make([]Source, 0, len(raws))
	for i, raw := range raws {
		src, err := ParseSource(raw)
		if err != nil {
			return nil, &ConfigError{Field: fmt.Sprintf("feeds[%d]", i), Message: "订阅源地址为空"}
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// Settings 一次完整的调度配置。任何字段变化都要重新 Start。
type Settings struct {
	Sources      []Source
	Interval     time.Duration
	PageSize     int
	FetchTimeout time.Duration // 0 表示使用默认值
}

const maxFetchTimeout = 30 * time.Second

// Validate 检查调度参数。
func (s Settings) Validate() error {
	if s.Interval <= 0 {
		return &ConfigError{Field: "update_interval", Message: "刷新间隔必须为正数"}
	}
	if s.PageSize <= 0 {
		return &ConfigError{Field: "items_visible", Message: "每页数量必须为正数"}
	}
	if s.FetchTimeout < 0 {
		return &ConfigError{Field: "fetch_timeout", Message: "抓取超时不能为负数"}
	}
	for i, src := range s.Sources {
		if strings.TrimSpace(src.URL) == "" {
			return &ConfigError{Field: fmt.Sprintf("feeds[%d]", i), Message: "订阅源地址为空"}
		}
	}
	return nil
}

// EffectiveFetchTimeout 返回单次抓取的截止时长，默认取刷新间隔的一半且不超过 30 秒，
// 保证上一轮卡住的请求不会和下一轮重叠太久。
func (s Settings) EffectiveFetchTimeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	d := s.Interval / 2
	if d <= 0 || d > maxFetchTimeout {
		d = maxFetchTimeout
	}
	return d
}

func (s Settings) clone() Settings {
	out := s
	out.Sources = make([]Source, len(s.Sources))
	copy(out.Sources, s.Sources)
	return out
}

// FormatClock 以 HH:MM 格式化最后更新时间，零值返回 --:--。
func FormatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}
