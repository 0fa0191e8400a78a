package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"grid-trader-go/market"
)

// BinanceSpotWSEndpoint 现货行情流默认端点。
const BinanceSpotWSEndpoint = "wss://stream.binance.com:9443"

const wsReadTimeout = 90 * time.Second

// CombinedMessage 对应 binance combined stream 包装。
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type miniTicker struct {
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	EventTime int64  `json:"E"`
}

// ParseMiniTicker 解析 combined stream 的 miniTicker 消息，返回最新价。
func ParseMiniTicker(raw []byte) (market.Tick, error) {
	var msg CombinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return market.Tick{}, err
	}
	if !strings.Contains(msg.Stream, "@miniTicker") {
		return market.Tick{}, fmt.Errorf("unexpected stream %q", msg.Stream)
	}
	var mt miniTicker
	if err := json.Unmarshal(msg.Data, &mt); err != nil {
		return market.Tick{}, err
	}
	price, err := strconv.ParseFloat(mt.Close, 64)
	if err != nil || price <= 0 {
		return market.Tick{}, fmt.Errorf("bad close price %q", mt.Close)
	}
	return market.Tick{
		Symbol: mt.Symbol,
		Price:  price,
		At:     time.UnixMilli(mt.EventTime).UTC(),
	}, nil
}

// PriceStream 订阅一组交易对的 miniTicker 流并写入价格缓存。
// 断线按指数退避重连；引擎通过缓存的新鲜度判断是否回退 REST 询价。
type PriceStream struct {
	Endpoint string
	Dialer   *websocket.Dialer
	// OnDisconnect 每次连接中断时回调一次，可为 nil。
	OnDisconnect func(err error)

	symbols []string
	cache   *market.PriceCache
}

// NewPriceStream 创建行情流；endpoint 为空时用默认端点。
func NewPriceStream(endpoint string, symbols []string, cache *market.PriceCache) (*PriceStream, error) {
	if len(symbols) == 0 {
		return nil, errors.New("gateway: at least one symbol required")
	}
	if cache == nil {
		return nil, errors.New("gateway: price cache required")
	}
	if endpoint == "" {
		endpoint = BinanceSpotWSEndpoint
	}
	return &PriceStream{
		Endpoint: endpoint,
		Dialer:   websocket.DefaultDialer,
		symbols:  symbols,
		cache:    cache,
	}, nil
}

func (s *PriceStream) streamURL() string {
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, strings.ToLower(sym)+"@miniTicker")
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     strings.TrimPrefix(s.Endpoint, "wss://"),
		Path:     "/stream",
		RawQuery: "streams=" + strings.Join(streams, "/"),
	}
	return u.String()
}

// Run 维持订阅直到 ctx 取消；内部处理重连。
func (s *PriceStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.OnDisconnect != nil {
			s.OnDisconnect(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *PriceStream) runOnce(ctx context.Context) error {
	conn, resp, err := s.Dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ws dial status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("ws dial: %w", err)
	}
	defer conn.Close()

	// ctx 取消时关闭连接，让阻塞中的 ReadMessage 立即返回。
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tick, err := ParseMiniTicker(raw)
		if err != nil {
			continue // 混合流里允许出现其它消息类型
		}
		_ = s.cache.Update(tick.Symbol, tick.Price, tick.At)
	}
}
