package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/iabetor/rsspanel/internal/database"
	"github.com/iabetor/rsspanel/internal/rss"
)

type fakeFeeds struct {
	slots   []*rss.Feed
	reloads atomic.Int32
}

func (f *fakeFeeds) Slots() []*rss.Feed { return f.slots }

func (f *fakeFeeds) Status() []rss.SourceStatus {
	st := make([]rss.SourceStatus, len(f.slots))
	for i := range st {
		st[i].Index = i
	}
	return st
}

func (f *fakeFeeds) LastUpdatedLabel() string { return "08:30" }

func (f *fakeFeeds) Reload() { f.reloads.Add(1) }

type fakeHistory struct {
	entries []database.HistoryEntry
	err     error
	limit   int
}

func (h *fakeHistory) Recent(ctx context.Context, limit int) ([]database.HistoryEntry, error) {
	h.limit = limit
	return h.entries, h.err
}

func newFakeFeeds(n int, missing int) *fakeFeeds {
	f := &fakeFeeds{slots: make([]*rss.Feed, n)}
	for i := range f.slots {
		if i == missing {
			continue
		}
		f.slots[i] = &rss.Feed{
			PublisherTitle: string(rune('A' + i)),
			Items:          []rss.FeedItem{{Title: "t", Link: "http://x/" + string(rune('a'+i))}},
		}
	}
	return f
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) PageView {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码 %d: %s", rec.Code, rec.Body.String())
	}
	var p PageView
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	return p
}

func TestPageAndNavigation(t *testing.T) {
	feeds := newFakeFeeds(5, 1)
	s := New("", feeds, rss.NewPager(2), nil)
	h := s.Handler()

	p := decodePage(t, do(t, h, http.MethodGet, "/api/page"))
	if p.Total != 5 || p.Start != 0 || len(p.Entries) != 2 {
		t.Fatalf("首页不匹配: %+v", p)
	}
	if p.LastUpdate != "08:30" {
		t.Errorf("last_update 不匹配: %s", p.LastUpdate)
	}
	if p.Entries[0].Label != "A (1)" || !p.Entries[0].Available {
		t.Errorf("第一项不匹配: %+v", p.Entries[0])
	}
	if p.Entries[1].Available || p.Entries[1].Label != "No data available" {
		t.Errorf("缺失项应为占位: %+v", p.Entries[1])
	}

	wantStarts := []int{2, 4, 4}
	for i, want := range wantStarts {
		p = decodePage(t, do(t, h, http.MethodPost, "/api/page/next"))
		if p.Start != want {
			t.Fatalf("第 %d 次 next: start=%d, 期望 %d", i+1, p.Start, want)
		}
	}
	if len(p.Entries) != 1 || p.Entries[0].SourceIndex != 4 {
		t.Errorf("最后一页不匹配: %+v", p.Entries)
	}

	for _, want := range []int{2, 0, 0} {
		p = decodePage(t, do(t, h, http.MethodPost, "/api/page/prev"))
		if p.Start != want {
			t.Fatalf("prev: start=%d, 期望 %d", p.Start, want)
		}
	}
}

func TestReload(t *testing.T) {
	feeds := newFakeFeeds(1, -1)
	h := New("", feeds, rss.NewPager(1), nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/reload")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("状态码 %d", rec.Code)
	}
	if feeds.reloads.Load() != 1 {
		t.Errorf("应触发一次刷新，实际 %d", feeds.reloads.Load())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	feeds := newFakeFeeds(1, -1)
	h := New("", feeds, rss.NewPager(1), nil).Handler()

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/reload"},
		{http.MethodGet, "/api/page/next"},
		{http.MethodGet, "/api/page/prev"},
		{http.MethodPost, "/api/page"},
		{http.MethodPost, "/api/status"},
		{http.MethodDelete, "/api/history"},
		{http.MethodPost, "/healthz"},
	}
	for _, tt := range tests {
		if rec := do(t, h, tt.method, tt.path); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s 应返回 405，得到 %d", tt.method, tt.path, rec.Code)
		}
	}
	if feeds.reloads.Load() != 0 {
		t.Error("方法不匹配时不应触发刷新")
	}
}

func TestUnknownRoute(t *testing.T) {
	h := New("", newFakeFeeds(1, -1), rss.NewPager(1), nil).Handler()
	if rec := do(t, h, http.MethodGet, "/api/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("未知路径应返回 404，得到 %d", rec.Code)
	}
}

func TestStatusAndHealth(t *testing.T) {
	h := New("", newFakeFeeds(3, -1), rss.NewPager(1), nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/status")
	var body struct {
		LastUpdate string             `json:"last_update"`
		Sources    []rss.SourceStatus `json:"sources"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(body.Sources) != 3 || body.LastUpdate != "08:30" {
		t.Errorf("状态不匹配: %+v", body)
	}

	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz 状态码 %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	feeds := newFakeFeeds(1, -1)

	h := New("", feeds, rss.NewPager(1), nil).Handler()
	if rec := do(t, h, http.MethodGet, "/api/history"); rec.Code != http.StatusNotFound {
		t.Errorf("未启用历史时应返回 404，得到 %d", rec.Code)
	}

	hist := &fakeHistory{entries: []database.HistoryEntry{{CycleID: "c1", SourceURL: "http://a/rss"}}}
	h = New("", feeds, rss.NewPager(1), hist).Handler()

	rec := do(t, h, http.MethodGet, "/api/history?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码 %d", rec.Code)
	}
	if hist.limit != 5 {
		t.Errorf("limit 未传递: %d", hist.limit)
	}
	var entries []database.HistoryEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(entries) != 1 || entries[0].CycleID != "c1" {
		t.Errorf("历史记录不匹配: %+v", entries)
	}

	if rec := do(t, h, http.MethodGet, "/api/history?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("非法 limit 应返回 400，得到 %d", rec.Code)
	}

	hist.err = errors.New("boom")
	if rec := do(t, h, http.MethodGet, "/api/history"); rec.Code != http.StatusInternalServerError {
		t.Errorf("查询失败应返回 500，得到 %d", rec.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := New("127.0.0.1:0", newFakeFeeds(1, -1), rss.NewPager(1), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown 失败: %v", err)
	}
}
