package rss

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/rsspanel/internal/logger"
)

// FeedFetcher 获取单个订阅源的原始载荷。*Fetcher 实现了该接口。
type FeedFetcher interface {
	Fetch(ctx context.Context, src Source) ([]byte, error)
}

// FetchReport 一次抓取的结果，交给 Reporter 记录。
type FetchReport struct {
	CycleID     string
	SourceIndex int
	SourceURL   string
	Items       int
	Applied     bool // 是否写入了槽位；被新一轮覆盖或配置已变化时为 false
	Err         error
	Duration    time.Duration
	At          time.Time
}

// Reporter 接收每个订阅源的抓取结果。实现必须可并发调用。
type Reporter interface {
	ReportFetch(r FetchReport)
}

// SourceStatus 单个订阅源的诊断信息。
type SourceStatus struct {
	Index       int       `json:"index"`
	URL         string    `json:"url"`
	Items       int       `json:"items"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Failures    int       `json:"consecutive_failures"`
}

// Scheduler 定时并发刷新所有订阅源，并持有按源顺序排列的槽位数组。
//
// 每次 Start 都会生成新的配置代号（generation），每轮刷新有递增的轮次号（cycle）。
// 写槽位前同时校验两者：配置已变化或该槽位已被更新的轮次写过时，结果直接丢弃。
type Scheduler struct {
	fetcher  FeedFetcher
	reporter Reporter
	now      func() time.Time

	// lifeMu 串行化 Start/Stop。
	lifeMu sync.Mutex
	loopWG sync.WaitGroup

	mu          sync.RWMutex
	settings    Settings
	slots       []*Feed
	slotCycle   []uint64
	status      []SourceStatus
	generation  uint64
	cycleSeq    uint64
	lastUpdated time.Time
	running     bool
	cancel      context.CancelFunc
	reload      chan struct{}

	updates chan struct{}
}

// NewScheduler 创建调度器。reporter 可以为 nil。
func NewScheduler(fetcher FeedFetcher, reporter Reporter) *Scheduler {
	return &Scheduler{
		fetcher:  fetcher,
		reporter: reporter,
		now:      time.Now,
		updates:  make(chan struct{}, 1),
	}
}

// Start 取消当前的刷新循环，按新配置重置槽位，立即刷新一轮，
// 之后每隔 settings.Interval 刷新一次。配置不合法时返回 *ConfigError 且不启动。
func (s *Scheduler) Start(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	reload := make(chan struct{}, 1)
	n := len(settings.Sources)

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.settings = settings.clone()
	s.slots = make([]*Feed, n)
	s.slotCycle = make([]uint64, n)
	s.status = make([]SourceStatus, n)
	for i, src := range settings.Sources {
		s.status[i] = SourceStatus{Index: i, URL: src.Raw}
	}
	s.running = true
	s.cancel = cancel
	s.reload = reload
	s.mu.Unlock()

	logger.Infof("[rss] 调度器启动: %d 个订阅源, 间隔 %s, 每页 %d", n, settings.Interval, settings.PageSize)
	s.notify()

	s.loopWG.Add(1)
	go s.loop(ctx, gen, settings.Interval, reload)
	return nil
}

// Stop 停止定时刷新并取消进行中的请求。未启动时调用也是安全的。
// 被取消的请求即使稍后返回，结果也会被丢弃。
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.mu.Lock()
	cancel := s.cancel
	wasRunning := s.running
	s.cancel = nil
	s.running = false
	s.generation++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loopWG.Wait()
	if wasRunning {
		logger.Infof("[rss] 调度器已停止")
	}
}

// Reload 在当前配置下立即额外刷新一轮。未运行时什么也不做。
func (s *Scheduler) Reload() {
	s.mu.RLock()
	ch, running := s.reload, s.running
	s.mu.RUnlock()
	if !running {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Running 返回调度器是否在运行。
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Updates 返回一个合并式通知通道：任何槽位变化或重新配置后都会收到一个信号。
// 同一时间只应有一个消费者。
func (s *Scheduler) Updates() <-chan struct{} {
	return s.updates
}

// Slots 返回当前槽位数组的快照。nil 表示该源暂无数据。
func (s *Scheduler) Slots() []*Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Feed, len(s.slots))
	copy(out, s.slots)
	return out
}

// Settings 返回当前生效的配置副本。
func (s *Scheduler) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.clone()
}

// Status 返回每个订阅源的诊断信息。
func (s *Scheduler) Status() []SourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SourceStatus, len(s.status))
	copy(out, s.status)
	return out
}

// LastUpdated 返回最近一次有槽位被更新的时间。
func (s *Scheduler) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// LastUpdatedLabel 返回 HH:MM 格式的最后更新时间。
func (s *Scheduler) LastUpdatedLabel() string {
	return FormatClock(s.LastUpdated())
}

func (s *Scheduler) loop(ctx context.Context, gen uint64, interval time.Duration, reload <-chan struct{}) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runCycle(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx, gen)
		case <-reload:
			s.runCycle(ctx, gen)
		}
	}
}

// runCycle 为每个订阅源启动一个 goroutine，不等待它们完成。
// 上一轮仍未返回的请求不会阻塞本轮。
func (s *Scheduler) runCycle(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.cycleSeq++
	cycle := s.cycleSeq
	sources := s.settings.Sources
	timeout := s.settings.EffectiveFetchTimeout()
	s.mu.Unlock()

	cycleID := uuid.NewString()
	logger.Debugf("[rss] 刷新周期 %s 开始: %d 个订阅源", cycleID, len(sources))

	for i, src := range sources {
		go s.refreshSource(ctx, gen, cycle, cycleID, i, src, timeout)
	}
}

func (s *Scheduler) refreshSource(ctx context.Context, gen, cycle uint64, cycleID string, index int, src Source, timeout time.Duration) {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := s.now()
	var feed *Feed
	payload, err := s.fetcher.Fetch(fctx, src)
	if err == nil {
		feed, err = Parse(payload)
	}

	report := FetchReport{
		CycleID:     cycleID,
		SourceIndex: index,
		SourceURL:   src.Raw,
		Err:         err,
		Duration:    s.now().Sub(started),
		At:          s.now(),
	}

	if err != nil {
		if ctx.Err() != nil {
			// 已停止或已重新配置，静默丢弃
			logger.Debugf("[rss] 丢弃已取消的请求 %s: %v", src.Raw, err)
			return
		}
		s.recordFailure(gen, index, err)
		logger.Warnf("[rss] 获取 %s 失败，保留旧数据: %v", src.Raw, err)
		s.report(report)
		return
	}

	if ctx.Err() != nil {
		logger.Debugf("[rss] 丢弃已取消配置下的结果 %s", src.Raw)
		return
	}

	report.Items = len(feed.Items)
	report.Applied = s.apply(gen, cycle, index, feed)
	if report.Applied {
		logger.Debugf("[rss] %s 已更新: %s (%d 条)", src.Raw, feed.PublisherTitle, len(feed.Items))
	} else {
		logger.Debugf("[rss] 丢弃过期结果 %s (cycle=%d)", src.Raw, cycle)
	}
	s.report(report)
}

// apply 写入槽位。配置已变化，或者该槽位已被更新的轮次写过时返回 false。
func (s *Scheduler) apply(gen, cycle uint64, index int, feed *Feed) bool {
	now := s.now()

	s.mu.Lock()
	if gen != s.generation || index >= len(s.slots) || cycle < s.slotCycle[index] {
		s.mu.Unlock()
		return false
	}
	s.slots[index] = feed
	s.slotCycle[index] = cycle
	s.lastUpdated = now
	st := &s.status[index]
	st.Items = len(feed.Items)
	st.LastSuccess = now
	st.LastError = ""
	st.ErrorKind = ""
	st.Failures = 0
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *Scheduler) recordFailure(gen uint64, index int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || index >= len(s.status) {
		return
	}
	st := &s.status[index]
	st.LastError = err.Error()
	st.ErrorKind = ErrorKind(err)
	st.Failures++
}

func (s *Scheduler) report(r FetchReport) {
	if s.reporter == nil {
		return
	}
	s.reporter.ReportFetch(r)
}

func (s *Scheduler) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// ErrorKind 返回错误的分类名，用于状态展示和历史记录。
func ErrorKind(err error) string {
	var (
		pe *ParseError
		ne *NetworkError
		te *TimeoutError
		he *HTTPStatusError
		ce *ConfigError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &he):
		return "http_status"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &pe):
		return "parse"
	case errors.As(err, &ce):
		return "config"
	default:
		return "unknown"
	}
}
