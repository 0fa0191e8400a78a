package journal

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"grid-trader-go/ledger"
)

// Record 一条成交日志,与台账可互相换算。重放日志即可重建台账状态。
type Record struct {
	ID         string
	Symbol     string
	Side       string
	Quantity   float64
	Price      float64
	LevelIndex int
	ExecutedAt time.Time
}

// Filter 查询过滤条件。零值字段表示不过滤。
type Filter struct {
	Symbol string
	Since  time.Time
	Until  time.Time
}

// Journal 成交日志的持久化接口。实现必须按 ExecutedAt 升序返回查询结果。
type Journal interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
	Close() error
}

// Trade 把日志记录换算成台账成交。
func (r Record) Trade() ledger.Trade {
	return ledger.Trade{
		ID:         r.ID,
		Symbol:     r.Symbol,
		Side:       ledger.Side(r.Side),
		Quantity:   r.Quantity,
		Price:      r.Price,
		LevelIndex: r.LevelIndex,
		ExecutedAt: r.ExecutedAt,
	}
}

// FromTrade 把台账成交换算成日志记录。
func FromTrade(t ledger.Trade) Record {
	return Record{
		ID:         t.ID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		Quantity:   t.Quantity,
		Price:      t.Price,
		LevelIndex: t.LevelIndex,
		ExecutedAt: t.ExecutedAt,
	}
}

// Trades 批量换算,保持输入顺序。
func Trades(recs []Record) []ledger.Trade {
	out := make([]ledger.Trade, len(recs))
	for i, r := range recs {
		out[i] = r.Trade()
	}
	return out
}

// ReplayLedger 读出全部日志并重建台账。启动恢复用。
func ReplayLedger(ctx context.Context, j Journal) (*ledger.Ledger, error) {
	recs, err := j.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	return ledger.Replay(Trades(recs))
}

var (
	idMu   sync.Mutex
	idMono io.Reader
)

func init() {
	// 用 crypto/rand 播种,单调熵源保证同毫秒内的 ID 字典序递增。
	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	idMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewID 生成按时间可排序的 ULID,用作成交记录主键。
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), idMono)
	if err != nil {
		panic(err)
	}
	return id.String()
}
