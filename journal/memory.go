package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory 内存日志,纸面模式与测试用。语义与 SQLite 实现一致。
type Memory struct {
	mu   sync.Mutex
	recs []Record
}

var _ Journal = (*Memory)(nil)

// NewMemory 创建空的内存日志。
func NewMemory() *Memory {
	return &Memory{}
}

// Append 追加一条记录。ID 为空时自动分配 ULID。
func (m *Memory) Append(_ context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

// List 按过滤条件返回副本,按执行时间升序。
func (m *Memory) List(_ context.Context, f Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.recs {
		if f.Symbol != "" && rec.Symbol != f.Symbol {
			continue
		}
		if !f.Since.IsZero() && rec.ExecutedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !rec.ExecutedAt.Before(f.Until) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].ExecutedAt.Equal(out[k].ExecutedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].ExecutedAt.Before(out[k].ExecutedAt)
	})
	return out, nil
}

// Close 满足 Journal 接口,无资源可释放。
func (m *Memory) Close() error { return nil }
