package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iabetor/rsspanel/internal/config"
	"github.com/iabetor/rsspanel/internal/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 返回进程退出码，main 中不直接退出以便 defer 执行。
func run(args []string) int {
	fs := flag.NewFlagSet("rsspanel", flag.ContinueOnError)
	configPath := fs.String("config", "configs/rsspanel.yaml", "配置文件路径")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 1
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Infof("[main] rsspanel 启动中 (log_level=%s, feeds=%d)", cfg.Log.Level, len(cfg.Feeds))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(*configPath, cfg)
	if err != nil {
		logger.Errorf("[main] 初始化失败: %v", err)
		return 1
	}
	defer a.Close()

	// SIGHUP 重新加载配置，SIGINT/SIGTERM 优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					a.reloadConfig()
					continue
				}
				logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
				cancel()
				return
			}
		}
	}()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("[main] 运行出错: %v", err)
		return 1
	}

	logger.Info("[main] rsspanel 已停止")
	return 0
}
