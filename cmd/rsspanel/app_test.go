package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/iabetor/rsspanel/internal/config"
	"github.com/iabetor/rsspanel/internal/logger"
)

func mustParse(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(content), false)
	if err != nil {
		t.Fatalf("Parse 失败: %v", err)
	}
	return cfg
}

func TestApplyConfigConcurrentKeepsPagerInSync(t *testing.T) {
	a, err := newApp(filepath.Join(t.TempDir(), "rsspanel.yaml"), mustParse(t, "items_visible: 5\n"))
	if err != nil {
		t.Fatalf("newApp 失败: %v", err)
	}
	t.Cleanup(func() {
		a.sched.Stop()
		a.Close()
	})

	cfgs := make([]*config.Config, 8)
	for i := range cfgs {
		cfgs[i] = mustParse(t, fmt.Sprintf("items_visible: %d\n", i+1))
	}

	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for _, cfg := range cfgs {
			wg.Add(1)
			go func(cfg *config.Config) {
				defer wg.Done()
				if err := a.applyConfig(cfg); err != nil {
					t.Errorf("applyConfig 失败: %v", err)
				}
			}(cfg)
		}
	}
	wg.Wait()

	if got, want := a.pager.Size(), a.sched.Settings().PageSize; got != want {
		t.Errorf("翻页器每页 %d 与调度配置 %d 不一致", got, want)
	}
	if a.pager.Start() != 0 {
		t.Errorf("重新加载后应回到第一页: %d", a.pager.Start())
	}
	a.mu.Lock()
	cur := a.cfg.ItemsVisible
	a.mu.Unlock()
	if cur != a.sched.Settings().PageSize {
		t.Errorf("当前配置 %d 与调度配置 %d 不一致", cur, a.sched.Settings().PageSize)
	}
}

func TestApplyConfigRejectsInvalid(t *testing.T) {
	a, err := newApp(filepath.Join(t.TempDir(), "rsspanel.yaml"), mustParse(t, "items_visible: 2\n"))
	if err != nil {
		t.Fatalf("newApp 失败: %v", err)
	}
	t.Cleanup(a.Close)

	bad := mustParse(t, "items_visible: 3\n")
	bad.ItemsVisible = -1
	if err := a.applyConfig(bad); err == nil {
		t.Fatal("不合法的配置应返回错误")
	}
	if a.cfg.ItemsVisible != 2 || a.sched.Running() {
		t.Errorf("不合法的配置不应生效: items=%d running=%v", a.cfg.ItemsVisible, a.sched.Running())
	}
}

func TestRestartOnly(t *testing.T) {
	base := mustParse(t, "items_visible: 2\n")

	same := *base
	same.ItemsVisible = 4
	same.Feeds = []string{"http://a/rss"}
	if fields := restartOnly(base, &same); len(fields) != 0 {
		t.Errorf("订阅源和每页数量可在运行中切换: %v", fields)
	}

	changed := *base
	changed.Log.Level = "debug"
	changed.UserAgent = "other"
	changed.Server.Enabled = true
	got := strings.Join(restartOnly(base, &changed), ",")
	if got != "log,user_agent,server" {
		t.Errorf("需要重启的配置项不匹配: %s", got)
	}
}

func TestRunMissingConfig(t *testing.T) {
	if code := run([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}); code != 1 {
		t.Errorf("配置文件不存在时退出码应为 1，得到 %d", code)
	}
}

func TestRunBadFlag(t *testing.T) {
	if code := run([]string{"-unknown"}); code != 2 {
		t.Errorf("未知参数退出码应为 2，得到 %d", code)
	}
}

func TestRunErrorExitFlushesLog(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "rsspanel.log")
	path := filepath.Join(dir, "rsspanel.yaml")
	content := fmt.Sprintf(`
items_visible: 2
log:
  file: %s
history:
  enabled: true
  path: %s
server:
  enabled: true
  addr: "127.0.0.1:notaport"
`, logFile, filepath.Join(dir, "history.db"))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	t.Cleanup(func() { _ = logger.Init(logger.Config{}) })

	if code := run([]string{"-config", path}); code != 1 {
		t.Fatalf("接口监听失败时退出码应为 1，得到 %d", code)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), "运行出错") {
		t.Errorf("错误退出前应把日志写入文件: %s", data)
	}
}
