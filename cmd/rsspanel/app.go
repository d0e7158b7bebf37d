package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/iabetor/rsspanel/internal/config"
	"github.com/iabetor/rsspanel/internal/database"
	"github.com/iabetor/rsspanel/internal/logger"
	"github.com/iabetor/rsspanel/internal/rss"
	"github.com/iabetor/rsspanel/internal/server"
)

// app 把调度器、翻页器、历史记录和接口服务组装在一起。
type app struct {
	configPath string

	// reloadMu 保证翻页器和调度器按同一份配置更新。
	reloadMu sync.Mutex

	mu  sync.Mutex
	cfg *config.Config

	sched   *rss.Scheduler
	pager   *rss.Pager
	db      *database.DB
	history *database.History
	srv     *server.Server
}

func newApp(configPath string, cfg *config.Config) (*app, error) {
	a := &app{configPath: configPath, cfg: cfg}

	var reporter rss.Reporter
	if cfg.History.Enabled {
		db, err := database.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.history = database.NewHistory(db)
		reporter = a.history
	}

	fetcher := rss.NewFetcher(rss.FetcherConfig{UserAgent: cfg.UserAgent})
	a.sched = rss.NewScheduler(fetcher, reporter)
	a.pager = rss.NewPager(cfg.ItemsVisible)

	if cfg.Server.Enabled {
		var hist server.HistorySource
		if a.history != nil {
			hist = a.history
		}
		a.srv = server.New(cfg.Server.Addr, a.sched, a.pager, hist)
	}
	return a, nil
}

// Run 启动调度并阻塞到 ctx 取消。
func (a *app) Run(ctx context.Context) error {
	if err := a.startScheduler(); err != nil {
		return err
	}
	defer a.sched.Stop()

	if a.srv != nil {
		if err := a.srv.Start(); err != nil {
			return err
		}
	}

	go config.Watch(ctx, a.configPath, 2*time.Second, a.reloadConfig)
	if a.history != nil {
		go a.pruneLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.sched.Updates():
			a.render()
		}
	}
}

func (a *app) startScheduler() error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	a.pager.Reset(settings.PageSize)
	return a.sched.Start(settings)
}

// reloadConfig 重新读取配置文件并整体重启调度。配置不合法时保留旧配置继续运行。
func (a *app) reloadConfig() {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		logger.Warnf("[main] 重新加载配置失败，继续使用旧配置: %v", err)
		return
	}
	if err := a.applyConfig(cfg); err != nil {
		logger.Warnf("[main] 应用新配置失败: %v", err)
	}
}

// applyConfig 用新配置重置翻页器并重启调度，多次调用互斥执行。
func (a *app) applyConfig(cfg *config.Config) error {
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	a.mu.Lock()
	old := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	if fields := restartOnly(old, cfg); len(fields) > 0 {
		logger.Warnf("[main] 以下配置需要重启后生效: %s", strings.Join(fields, ", "))
	}

	a.pager.Reset(settings.PageSize)
	if err := a.sched.Start(settings); err != nil {
		return err
	}
	logger.Infof("[main] 配置已重新加载: %d 个订阅源", len(settings.Sources))
	return nil
}

// restartOnly 返回发生变化但运行中无法切换的配置项。
func restartOnly(old, cur *config.Config) []string {
	var fields []string
	if old.Log != cur.Log {
		fields = append(fields, "log")
	}
	if old.UserAgent != cur.UserAgent {
		fields = append(fields, "user_agent")
	}
	if old.History.Enabled != cur.History.Enabled || old.History.Path != cur.History.Path {
		fields = append(fields, "history")
	}
	if old.Server != cur.Server {
		fields = append(fields, "server")
	}
	return fields
}

// render 把当前页输出到日志，相当于面板菜单的文本形式。
func (a *app) render() {
	page := a.pager.Page(a.sched.Slots())
	labels := make([]string, 0, len(page))
	for _, e := range page {
		labels = append(labels, e.Label())
	}
	logger.Infof("[main] 最后更新 %s | %s", a.sched.LastUpdatedLabel(), strings.Join(labels, " | "))
}

func (a *app) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		a.mu.Lock()
		days := a.cfg.History.RetainDays
		a.mu.Unlock()
		if days > 0 {
			if _, err := a.history.Prune(ctx, time.Now().AddDate(0, 0, -days)); err != nil {
				logger.Warnf("[main] %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (a *app) Close() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warnf("[main] 关闭接口服务失败: %v", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
