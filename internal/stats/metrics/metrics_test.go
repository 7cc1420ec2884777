package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/core/store"
	"market-depth-engine/internal/stats/latency"
	"market-depth-engine/internal/util/timeutil"
)

func TestMetrics_CountersAndGauges(t *testing.T) {
	m := New()

	m.DiffsApplied.WithLabelValues(model.MarketBinance).Add(3)
	m.InvalidEvents.WithLabelValues(model.MarketBinance, ReasonNoSnapshot).Inc()
	m.ObserveStore(store.Stats{Books: 4, StaleBooks: 1, CrossedBooks: 2})
	m.ObservePricing(10, 2, 1, 150*time.Millisecond)
	m.ObserveFeed(model.MarketBinance, 5, 7)

	assert.Equal(t, 3.0, value(t, m.DiffsApplied.WithLabelValues(model.MarketBinance)))
	assert.Equal(t, 1.0, value(t, m.InvalidEvents.WithLabelValues(model.MarketBinance, ReasonNoSnapshot)))
	assert.Equal(t, 4.0, value(t, m.Books))
	assert.Equal(t, 1.0, value(t, m.StaleBooks))
	assert.Equal(t, 2.0, value(t, m.CrossedBooks))
	assert.Equal(t, 10.0, value(t, m.PricedAssets))
	assert.Equal(t, 2.0, value(t, m.UnresolvedAssets))
	assert.Equal(t, 1.0, value(t, m.SkippedEdges))
	assert.Equal(t, 5.0, value(t, m.WSReconnects.WithLabelValues(model.MarketBinance)))
	assert.Equal(t, 7.0, value(t, m.WSParseErrors.WithLabelValues(model.MarketBinance)))
}

func TestMetrics_ObserveLatency(t *testing.T) {
	m := New()
	tr := latency.NewTracker(10)
	tr.ObserveDiff(&model.DiffEvent{
		Market:          model.MarketBinance,
		ExchTsUnixMs:    1000,
		ArrivedAtUnixNs: timeutil.MsToNano(1250),
	}, 0)

	m.ObserveLatency(tr)
	assert.Equal(t, 250.0, value(t, m.FeedLagP99.WithLabelValues(model.MarketBinance)))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// 两个实例互不干扰，重复注册不会 panic
	a := New()
	b := New()
	a.Resyncs.WithLabelValues("x").Inc()
	assert.Equal(t, 1.0, value(t, a.Resyncs.WithLabelValues("x")))
	assert.Equal(t, 0.0, value(t, b.Resyncs.WithLabelValues("x")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SnapshotsApplied.WithLabelValues(model.MarketBinance).Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mde_book_snapshots_applied_total{market="binance"} 1`)
	assert.Contains(t, string(body), "mde_pricing_round_seconds_bucket")
}

// value 读取单个 Counter/Gauge 的当前值
func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	var out dto.Metric
	n := 0
	for metric := range ch {
		require.NoError(t, metric.Write(&out))
		n++
	}
	require.Equal(t, 1, n)
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("不支持的指标类型")
	return 0
}
