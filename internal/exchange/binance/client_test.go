package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"market-depth-engine/internal/config"
)

// newDepthServer 模拟 Binance 深度流：校验订阅请求后推送一条增量和一条坏消息
func newDepthServer(t *testing.T, subscribed chan<- SubscribeRequest) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req SubscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subscribed <- req
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":101,"u":103,"b":[["100","1"]],"a":[]}`))

		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SubscribeAndStream(t *testing.T) {
	subscribed := make(chan SubscribeRequest, 1)
	srv := newDepthServer(t, subscribed)

	cfg := &config.DepthFeedConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols:        []string{"BTCUSDT", "eth-btc"},
		PingIntervalMs: 50,
		ReadTimeoutMs:  5000,
	}
	c := NewClient(cfg, zap.NewNop())
	assert.Equal(t, []string{"BTCUSDT", "ETHBTC"}, c.Symbols())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe())

	select {
	case req := <-subscribed:
		assert.Equal(t, "SUBSCRIBE", req.Method)
		assert.Equal(t, []string{"btcusdt@depth@100ms", "ethbtc@depth@100ms"}, req.Params)
	case <-time.After(3 * time.Second):
		t.Fatal("未收到订阅请求")
	}

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case ev := <-c.DiffCh():
		require.NotNil(t, ev)
		assert.Equal(t, "BTCUSDT", ev.Pair)
		assert.Equal(t, int64(101), ev.FirstUpdateID)
		assert.Equal(t, int64(103), ev.FinalUpdateID)
	case <-time.After(3 * time.Second):
		t.Fatal("未收到增量事件")
	}
	assert.Equal(t, int64(1), c.Metrics().ParseErrorCount)

	require.NoError(t, c.Close())
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run 未退出")
	}
	_, ok := <-c.DiffCh()
	assert.False(t, ok, "Run 退出后通道应关闭")
}

func TestClient_SubscribeWithoutConnection(t *testing.T) {
	c := NewClient(&config.DepthFeedConfig{Symbols: []string{"BTCUSDT"}}, zap.NewNop())
	assert.Error(t, c.Subscribe())
}
