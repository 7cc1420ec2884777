// Package store 订单簿存储测试
package store

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-depth-engine/internal/core/depth"
	"market-depth-engine/internal/core/model"
)

const (
	testMarket = "binance"
	testPair   = "ETHUSDT"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snapshot(bids, asks [][]string, lastID int64) *model.SnapshotEvent {
	return &model.SnapshotEvent{Market: testMarket, Pair: testPair, Bids: bids, Asks: asks, LastUpdateID: lastID}
}

func diff(bids, asks [][]string, first, final int64) *model.DiffEvent {
	return &model.DiffEvent{Market: testMarket, Pair: testPair, BidChanges: bids, AskChanges: asks, FirstUpdateID: first, FinalUpdateID: final}
}

func assertBookInvariant(t *testing.T, b *model.OrderBook) {
	t.Helper()
	require.NoError(t, depth.CheckInvariant(model.SideBid, b.Bids))
	require.NoError(t, depth.CheckInvariant(model.SideAsk, b.Asks))
}

func TestStore_SnapshotThenDiff(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplySnapshot(snapshot(
		[][]string{{"100", "1"}, {"99", "2"}},
		[][]string{{"101", "1"}, {"102", "2"}},
		0,
	)))

	require.NoError(t, s.ApplyDiff(diff([][]string{{"100", "0"}, {"98", "3"}}, nil, 0, 0)))

	b, ok := s.Book(testMarket, testPair)
	require.True(t, ok)
	require.Len(t, b.Bids, 2)
	assert.True(t, b.Bids[0].Price.Equal(d("99")) && b.Bids[0].Size.Equal(d("2")))
	assert.True(t, b.Bids[1].Price.Equal(d("98")) && b.Bids[1].Size.Equal(d("3")))
	assertBookInvariant(t, b)

	bid, ok := s.BestBid(testMarket, testPair)
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("99")))
	ask, ok := s.BestAsk(testMarket, testPair)
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(d("101")))
	assert.False(t, b.IsCrossed())
}

func TestStore_DiffBeforeSnapshot(t *testing.T) {
	s := New()
	err := s.ApplyDiff(diff([][]string{{"100", "1"}}, nil, 0, 0))
	require.ErrorIs(t, err, ErrNoBaseSnapshot)

	_, ok := s.Book(testMarket, testPair)
	assert.False(t, ok, "增量失败后不应创建条目")
	assert.Empty(t, s.Keys())
}

func TestStore_InvalidSnapshotCreatesNothing(t *testing.T) {
	s := New()
	err := s.ApplySnapshot(snapshot([][]string{{"NaN", "1"}}, nil, 0))
	require.ErrorIs(t, err, ErrInvalidLevel)
	assert.Empty(t, s.Keys())

	err = s.ApplySnapshot(snapshot(nil, [][]string{{"-3", "1"}}, 0))
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestStore_HugeExponentRejectedPromptly(t *testing.T) {
	s := New()
	done := make(chan error, 1)
	go func() {
		done <- s.ApplySnapshot(snapshot([][]string{{"1e900000000", "1"}, {"100", "1"}}, nil, 0))
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInvalidLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("超大指数的档位未被及时拒绝")
	}
	assert.Empty(t, s.Keys())

	require.NoError(t, s.ApplySnapshot(snapshot([][]string{{"100", "1"}}, nil, 1)))
	err := s.ApplyDiff(diff([][]string{{"99", "1e-900000000"}}, nil, 2, 2))
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestStore_QueriesReportStaleness(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplySnapshot(snapshot([][]string{{"100", "1"}}, [][]string{{"101", "1"}}, 10)))

	bid, ok := s.BestBid(testMarket, testPair)
	require.True(t, ok)
	assert.False(t, bid.Stale)
	assert.Equal(t, int64(10), bid.LastUpdateID)

	// 缺口后查询结果带 stale 标记
	require.ErrorIs(t, s.ApplyDiff(diff(nil, [][]string{{"102", "2"}}, 20, 21)), ErrSequenceGap)
	ask, ok := s.BestAsk(testMarket, testPair)
	require.True(t, ok)
	assert.True(t, ask.Stale)
	assert.Equal(t, int64(21), ask.LastUpdateID)
	q, err := s.PriceForCapacity(testMarket, testPair, model.SideAsk, d("2"))
	require.NoError(t, err)
	assert.True(t, q.Stale)
	assert.True(t, q.Price.Equal(d("102")))

	// 新快照清除标记
	require.NoError(t, s.ApplySnapshot(snapshot([][]string{{"100", "1"}}, [][]string{{"101", "1"}}, 30)))
	q, err = s.PriceForCapacity(testMarket, testPair, model.SideBid, d("1"))
	require.NoError(t, err)
	assert.False(t, q.Stale)
	assert.Equal(t, int64(30), q.LastUpdateID)
}

func TestStore_InvalidDiffLeavesBookUntouched(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplySnapshot(snapshot([][]string{{"100", "1"}}, [][]string{{"101", "1"}}, 10)))

	err := s.ApplyDiff(diff([][]string{{"99", "1"}}, [][]string{{"x", "1"}}, 11, 11))
	require.ErrorIs(t, err, ErrInvalidLevel)

	err = s.ApplyDiff(diff([][]string{{"99", "-1"}}, nil, 11, 11))
	require.ErrorIs(t, err, ErrInvalidLevel)

	b, _ := s.Book(testMarket, testPair)
	assert.Len(t, b.Bids, 1)
	assert.Equal(t, int64(10), b.LastUpdateID)
}

func TestStore_SequenceHandling(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplySnapshot(snapshot([][]string{{"100", "1"}}, [][]string{{"101", "1"}}, 100)))

	// 被快照覆盖的增量
	err := s.ApplyDiff(diff([][]string{{"100", "0"}}, nil, 90, 100))
	require.ErrorIs(t, err, ErrOutdatedUpdate)
	bid, ok := s.BestBid(testMarket, testPair)
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("100")))

	// 首个增量跨越快照 ID：U <= last+1 <= u
	require.NoError(t, s.ApplyDiff(diff([][]string{{"99.5", "2"}}, nil, 95, 105)))
	// 严格连续
	require.NoError(t, s.ApplyDiff(diff(nil, [][]string{{"101", "3"}}, 106, 110)))
	assert.False(t, s.IsStale(testMarket, testPair))

	// 缺口：仍然应用，但标记 stale
	err = s.ApplyDiff(diff([][]string{{"98", "1"}}, nil, 120, 125))
	require.ErrorIs(t, err, ErrSequenceGap)
	var gap *GapError
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, int64(111), gap.ExpectedFirstID)
	assert.Equal(t, int64(120), gap.FirstID)
	assert.True(t, s.IsStale(testMarket, testPair))
	assert.True(t, s.SizeAtOrBetter(testMarket, testPair, model.SideBid, d("98")).Equal(d("4")))

	b, _ := s.Book(testMarket, testPair)
	assert.Equal(t, int64(125), b.LastUpdateID)
	assert.True(t, b.Stale)

	// 新快照清除 stale
	require.NoError(t, s.ApplySnapshot(snapshot([][]string{{"100", "1"}}, [][]string{{"101", "1"}}, 200)))
	assert.False(t, s.IsStale(testMarket, testPair))

	st := s.Stats()
	assert.Equal(t, 1, st.Books)
	assert.Equal(t, int64(1), st.SequenceGaps)
	assert.Equal(t, int64(1), st.OutdatedDropped)
	assert.Equal(t, int64(2), st.SnapshotsApplied)
	assert.Equal(t, int64(3), st.DiffsApplied)
}

func TestStore_DiffWithoutStoredIDAdoptsFinal(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplySnapshot(snapshot([][]string{{"100", "1"}}, nil, 0)))
	require.NoError(t, s.ApplyDiff(diff([][]string{{"99", "1"}}, nil, 500, 510)))

	b, _ := s.Book(testMarket, testPair)
	assert.Equal(t, int64(510), b.LastUpdateID)
	assert.False(t, b.Stale)
}

func TestStore_Queries(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplySnapshot(snapshot(
		[][]string{{"100", "1"}, {"99", "2"}, {"98", "3"}},
		[][]string{{"101", "1"}, {"102", "2"}, {"103", "3"}},
		0,
	)))

	assert.True(t, s.TotalSize(testMarket, testPair, model.SideAsk).Equal(d("6")))
	assert.True(t, s.SizeAtOrBetter(testMarket, testPair, model.SideAsk, d("102")).Equal(d("3")))
	assert.True(t, s.SizeBeyond(testMarket, testPair, model.SideAsk, d("102")).Equal(d("3")))
	assert.True(t, s.SizeBeyond(testMarket, testPair, model.SideBid, d("100")).Equal(d("5")))

	px, err := s.PriceForCapacity(testMarket, testPair, model.SideBid, d("2.5"))
	require.NoError(t, err)
	assert.True(t, px.Price.Equal(d("99")))

	px, err = s.PriceForCapacity(testMarket, testPair, model.SideBid, d("1000"))
	require.NoError(t, err)
	assert.True(t, px.Price.Equal(d("98")))

	clipped, ok := s.Clip(testMarket, testPair, d("3"))
	require.True(t, ok)
	assert.Len(t, clipped.Bids, 2)
	assert.Len(t, clipped.Asks, 2)

	_, err = s.PriceForCapacity("kraken", testPair, model.SideAsk, d("1"))
	require.ErrorIs(t, err, ErrEmptyBook)
	_, ok = s.BestBid("kraken", testPair)
	assert.False(t, ok)
	assert.True(t, s.TotalSize("kraken", testPair, model.SideBid).IsZero())
}

func TestStore_EmptySideCapacity(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplySnapshot(snapshot([][]string{{"100", "1"}}, nil, 0)))

	_, ok := s.BestAsk(testMarket, testPair)
	assert.False(t, ok)
	_, err := s.PriceForCapacity(testMarket, testPair, model.SideAsk, d("1"))
	require.ErrorIs(t, err, ErrEmptyBook)
}

func TestStore_ConcurrentSameKey(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplySnapshot(snapshot([][]string{{"1000", "1"}}, [][]string{{"2000", "1"}}, 0)))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				px := strconv.Itoa(900 + (w*31+i*7)%100)
				sz := strconv.Itoa(i % 3)
				_ = s.ApplyDiff(diff([][]string{{px, sz}}, [][]string{{strconv.Itoa(2000 + i%50), sz}}, 0, 0))
				if b, ok := s.Book(testMarket, testPair); ok {
					if depth.CheckInvariant(model.SideBid, b.Bids) != nil {
						t.Errorf("读取到不一致的买盘")
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	b, ok := s.Book(testMarket, testPair)
	require.True(t, ok)
	assertBookInvariant(t, b)
}

func TestStore_DifferentKeysDoNotBlock(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplySnapshot(&model.SnapshotEvent{Market: "binance", Pair: "BTCUSDT", Bids: [][]string{{"1", "1"}}}))
	require.NoError(t, s.ApplySnapshot(&model.SnapshotEvent{Market: "kraken", Pair: "BTCUSD", Bids: [][]string{{"1", "1"}}}))

	// 持有一个订单簿的写锁，另一个订单簿的写入不应被阻塞
	locked := s.get(model.BookKey{Market: "binance", Pair: "BTCUSDT"})
	locked.mu.Lock()
	defer locked.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.ApplyDiff(&model.DiffEvent{Market: "kraken", Pair: "BTCUSD", BidChanges: [][]string{{"2", "1"}}})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("不同 key 的写入被阻塞")
	}

	// 新 key 的插入同样不受影响
	go func() {
		done <- s.ApplySnapshot(&model.SnapshotEvent{Market: "kraken", Pair: "ETHUSD", Asks: [][]string{{"3", "1"}}})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("新 key 插入被阻塞")
	}
}

// **Property: 任意快照 + 增量序列之后订单簿满足排序/去重/正数量不变量**

func TestStore_Invariants_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	toRaw := func(vs []int) [][]string {
		out := make([][]string, 0, len(vs))
		for _, v := range vs {
			out = append(out, []string{fmt.Sprintf("%d.5", v/5+1), strconv.Itoa(v % 5)})
		}
		return out
	}

	encoded := gen.SliceOf(gen.IntRange(0, 30*5-1))

	properties.Property("快照与增量后不变量成立", prop.ForAll(
		func(snapBids, snapAsks, d1, d2, d3 []int) bool {
			s := New()
			if err := s.ApplySnapshot(snapshot(toRaw(snapBids), toRaw(snapAsks), 0)); err != nil {
				return false
			}
			for _, ch := range [][]int{d1, d2, d3} {
				if err := s.ApplyDiff(diff(toRaw(ch), toRaw(ch), 0, 0)); err != nil {
					return false
				}
				b, ok := s.Book(testMarket, testPair)
				if !ok {
					return false
				}
				if depth.CheckInvariant(model.SideBid, b.Bids) != nil || depth.CheckInvariant(model.SideAsk, b.Asks) != nil {
					return false
				}
			}
			return true
		},
		encoded, encoded, encoded, encoded, encoded,
	))

	properties.TestingRun(t)
}
