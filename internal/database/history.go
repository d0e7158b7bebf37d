package database

import (
	"context"
	"fmt"
	"time"

	"github.com/iabetor/rsspanel/internal/logger"
	"github.com/iabetor/rsspanel/internal/rss"
)

// HistoryEntry 一条抓取记录。
type HistoryEntry struct {
	ID          int64     `json:"id"`
	CycleID     string    `json:"cycle_id"`
	SourceIndex int       `json:"source_index"`
	SourceURL   string    `json:"source_url"`
	Items       int       `json:"items"`
	Applied     bool      `json:"applied"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// History 把调度器的抓取结果写入 fetch_history 表，实现 rss.Reporter。
type History struct {
	db *DB
}

// NewHistory 创建抓取历史记录器。db 需已完成 Migrate。
func NewHistory(db *DB) *History {
	return &History{db: db}
}

// ReportFetch 记录一次抓取结果。写入失败只记日志，不影响调度。
func (h *History) ReportFetch(r rss.FetchReport) {
	var errMsg string
	if r.Err != nil {
		errMsg = r.Err.Error()
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := h.db.Exec(
		`INSERT INTO fetch_history
			(cycle_id, source_index, source_url, items, applied, error_kind, error, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.SourceIndex, r.SourceURL, r.Items, r.Applied,
		rss.ErrorKind(r.Err), errMsg, r.Duration.Milliseconds(), at.UTC(),
	)
	if err != nil {
		logger.Warnf("[database] 写入抓取历史失败: %v", err)
	}
}

// Recent 返回最近的 limit 条记录，按时间倒序。
func (h *History) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, cycle_id, source_index, source_url, items, applied, error_kind, error, duration_ms, fetched_at
		FROM fetch_history ORDER BY fetched_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询抓取历史失败: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.CycleID, &e.SourceIndex, &e.SourceURL, &e.Items,
			&e.Applied, &e.ErrorKind, &e.Error, &e.DurationMs, &e.FetchedAt); err != nil {
			return nil, fmt.Errorf("读取抓取历史失败: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune 删除早于 before 的记录，返回删除条数。
func (h *History) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM fetch_history WHERE fetched_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("清理抓取历史失败: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Infof("[database] 已清理 %d 条抓取历史", n)
	}
	return n, nil
}
