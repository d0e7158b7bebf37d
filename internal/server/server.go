package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/iabetor/rsspanel/internal/database"
	"github.com/iabetor/rsspanel/internal/logger"
	"github.com/iabetor/rsspanel/internal/rss"
)

// Feeds 是服务端依赖的调度器能力，*rss.Scheduler 满足该接口。
type Feeds interface {
	Slots() []*rss.Feed
	Status() []rss.SourceStatus
	LastUpdatedLabel() string
	Reload()
}

// HistorySource 提供最近的抓取记录，未启用历史时为 nil。
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]database.HistoryEntry, error)
}

// Server 给外部界面提供只读的分页视图和刷新入口。
type Server struct {
	feeds   Feeds
	pager   *rss.Pager
	history HistorySource
	http    *http.Server
}

// PageEntryView 页面中一项的 JSON 表示。
type PageEntryView struct {
	SourceIndex int            `json:"source_index"`
	Label       string         `json:"label"`
	Available   bool           `json:"available"`
	Title       string         `json:"title,omitempty"`
	Items       []rss.FeedItem `json:"items,omitempty"`
}

// PageView /api/page 的响应。
type PageView struct {
	Start      int             `json:"start"`
	Size       int             `json:"size"`
	Total      int             `json:"total"`
	LastUpdate string          `json:"last_update"`
	Entries    []PageEntryView `json:"entries"`
}

// New 创建服务端。history 可以为 nil。
func New(addr string, feeds Feeds, pager *rss.Pager, history HistorySource) *Server {
	s := &Server{feeds: feeds, pager: pager, history: history}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler 返回路由，测试中可直接交给 httptest。
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)

	// 子路由在方法不匹配时返回 404，这里直接注册完整路径以便得到 405
	r.HandleFunc("/api/page", s.pageHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/page/next", s.nextHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/page/prev", s.prevHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/reload", s.reloadHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/status", s.statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/history", s.historyHandler).Methods(http.MethodGet)

	return r
}

// Start 在后台监听，监听失败时返回错误。
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	logger.Infof("[server] 接口已启动: http://%s", ln.Addr())
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[server] 服务异常退出: %v", err)
		}
	}()
	return nil
}

// Shutdown 优雅关闭。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) currentPage() PageView {
	slots := s.feeds.Slots()
	page := s.pager.Page(slots)

	entries := make([]PageEntryView, 0, len(page))
	for _, e := range page {
		v := PageEntryView{SourceIndex: e.SourceIndex, Label: e.Label(), Available: e.Available()}
		if e.Feed != nil {
			v.Title = e.Feed.PublisherTitle
			v.Items = e.Feed.Items
		}
		entries = append(entries, v)
	}
	return PageView{
		Start:      s.pager.Start(),
		Size:       s.pager.Size(),
		Total:      len(slots),
		LastUpdate: s.feeds.LastUpdatedLabel(),
		Entries:    entries,
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) pageHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentPage())
}

func (s *Server) nextHandler(w http.ResponseWriter, r *http.Request) {
	s.pager.Next(len(s.feeds.Slots()))
	writeJSON(w, http.StatusOK, s.currentPage())
}

func (s *Server) prevHandler(w http.ResponseWriter, r *http.Request) {
	s.pager.Prev()
	writeJSON(w, http.StatusOK, s.currentPage())
}

func (s *Server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	s.feeds.Reload()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reloading"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_update": s.feeds.LastUpdatedLabel(),
		"sources":     s.feeds.Status(),
	})
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "抓取历史未启用")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit 必须为正整数")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		logger.Warnf("[server] 查询抓取历史失败: %v", err)
		writeError(w, http.StatusInternalServerError, "查询抓取历史失败")
		return
	}
	if entries == nil {
		entries = []database.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("[server] 写入响应失败: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debugf("[server] %s %s %d %s", r.Method, r.URL.Path, rec.code, time.Since(start))
	})
}
