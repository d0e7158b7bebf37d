package config

import (
	"context"
	"os"
	"time"

	"github.com/iabetor/rsspanel/internal/logger"
)

// Watch 轮询配置文件的修改时间，变化时调用 onChange。
// ctx 取消后返回。
func Watch(ctx context.Context, path string, every time.Duration, onChange func()) {
	if every <= 0 {
		every = 2 * time.Second
	}
	last := modTime(path)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mt := modTime(path)
			if mt.IsZero() || mt.Equal(last) {
				continue
			}
			last = mt
			logger.Debugf("[config] 检测到配置文件变化: %s", path)
			onChange()
		}
	}
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
