package rss

import (
	"fmt"
	"sync"
)

const noDataLabel = "No data available"

// PageEntry 页面中的一项。Feed 为 nil 表示该源暂无数据，占位保证与配置顺序对齐。
type PageEntry struct {
	SourceIndex int   `json:"source_index"`
	Feed        *Feed `json:"feed"`
}

// Available 返回该项是否有数据。
func (e PageEntry) Available() bool { return e.Feed != nil }

// Label 菜单上显示的标题，例如 "Hacker News (30)"。
func (e PageEntry) Label() string {
	if e.Feed == nil {
		return noDataLabel
	}
	return fmt.Sprintf("%s (%d)", e.Feed.PublisherTitle, len(e.Feed.Items))
}

// Page 当前可见的一页订阅源。
type Page []PageEntry

// Paginate 从 start 开始取最多 size 个连续槽位。纯函数，不修改 slots。
// start 小于 0 时按 0 处理，超过末尾时返回空页。
func Paginate(slots []*Feed, start, size int) Page {
	if start < 0 {
		start = 0
	}
	if start > len(slots) {
		start = len(slots)
	}
	if size <= 0 {
		return Page{}
	}
	end := start + size
	if end > len(slots) {
		end = len(slots)
	}

	page := make(Page, 0, end-start)
	for i := start; i < end; i++ {
		page = append(page, PageEntry{SourceIndex: i, Feed: slots[i]})
	}
	return page
}

// Pager 保存翻页位置，可并发使用。
type Pager struct {
	mu    sync.Mutex
	start int
	size  int
}

// NewPager 创建翻页器，size 小于 1 时按 1 处理。
func NewPager(size int) *Pager {
	if size < 1 {
		size = 1
	}
	return &Pager{size: size}
}

// Start 当前页起始下标。
func (p *Pager) Start() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.start
}

// Size 每页数量。
func (p *Pager) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Next 仅当 start+size < total 时前进一页，返回是否翻页。
func (p *Pager) Next(total int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start+p.size >= total {
		return false
	}
	p.start += p.size
	return true
}

// Prev 后退一页，最小到 0，返回是否翻页。
func (p *Pager) Prev() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start == 0 {
		return false
	}
	p.start -= p.size
	if p.start < 0 {
		p.start = 0
	}
	return true
}

// Reset 回到第一页并设置新的每页数量。配置变化后调用。
func (p *Pager) Reset(size int) {
	if size < 1 {
		size = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = 0
	p.size = size
}

// Page 对给定快照取当前页。
func (p *Pager) Page(slots []*Feed) Page {
	p.mu.Lock()
	start, size := p.start, p.size
	p.mu.Unlock()
	return Paginate(slots, start, size)
}
