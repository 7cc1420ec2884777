// Package store 维护每个 (market, pair) 的订单簿状态。
// 外层 map 的读写锁只用于查找和插入新 key；每个订单簿有独立的读写锁，
// 同一 key 的写入串行执行，不同 key 之间互不阻塞。
package store

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"market-depth-engine/internal/core/depth"
	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/util/timeutil"
)

// entry 单个订单簿及其锁
type entry struct {
	mu   sync.RWMutex
	book model.OrderBook
}

// Stats 存储统计快照
type Stats struct {
	// Books 订单簿数量
	Books int `json:"books"`
	// StaleBooks 处于 stale 状态的订单簿数量
	StaleBooks int `json:"stale_books"`
	// CrossedBooks 交叉盘数量
	CrossedBooks int `json:"crossed_books"`
	// SnapshotsApplied 累计应用快照数
	SnapshotsApplied int64 `json:"snapshots_applied"`
	// DiffsApplied 累计应用增量数
	DiffsApplied int64 `json:"diffs_applied"`
	// SequenceGaps 累计序列缺口数
	SequenceGaps int64 `json:"sequence_gaps"`
	// OutdatedDropped 累计丢弃的过期增量数
	OutdatedDropped int64 `json:"outdated_dropped"`
}

// Store 订单簿存储
// 进程启动时为空，收到首个快照时惰性创建条目，条目生命周期与进程相同。
type Store struct {
	// mu 仅保护 books 的结构（查找 / 插入）
	mu sync.RWMutex
	// books 按 (market, pair) 索引的订单簿
	books map[model.BookKey]*entry

	snapshots atomic.Int64
	diffs     atomic.Int64
	gaps      atomic.Int64
	outdated  atomic.Int64

	// now 时间源，测试可替换
	now func() int64
}

// New 创建空的订单簿存储
func New() *Store {
	return &Store{
		books: make(map[model.BookKey]*entry),
		now:   timeutil.NowNano,
	}
}

func (s *Store) get(key model.BookKey) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[key]
}

func (s *Store) getOrCreate(key model.BookKey) *entry {
	if e := s.get(key); e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.books[key]; ok {
		return e
	}
	e := &entry{book: model.OrderBook{Key: key}}
	s.books[key] = e
	return e
}

// ApplySnapshot 用快照整体替换订单簿
// 档位会被排序、去重（同价以最后一次为准），数量 <= 0 的档位被丢弃；
// 同时清除 stale 标记。任何档位不合法时返回 ErrInvalidLevel 且不创建条目。
func (s *Store) ApplySnapshot(ev *model.SnapshotEvent) error {
	key := ev.Key()

	rawBids, err := depth.ParseLevels(ev.Bids)
	if err != nil {
		return fmt.Errorf("%s 快照买盘: %w", key, err)
	}
	rawAsks, err := depth.ParseLevels(ev.Asks)
	if err != nil {
		return fmt.Errorf("%s 快照卖盘: %w", key, err)
	}
	bids := depth.Normalize(model.SideBid, rawBids)
	asks := depth.Normalize(model.SideAsk, rawAsks)

	e := s.getOrCreate(key)
	e.mu.Lock()
	e.book = model.OrderBook{
		Key:             key,
		Bids:            bids,
		Asks:            asks,
		LastUpdateID:    ev.LastUpdateID,
		Stale:           false,
		UpdatedAtUnixNs: s.now(),
	}
	e.mu.Unlock()

	s.snapshots.Add(1)
	return nil
}

// ApplyDiff 将增量合并到已有订单簿
//
// 没有快照时返回 ErrNoBaseSnapshot，且不会创建条目。
// 携带更新 ID 且订单簿已有 LastUpdateID 时检查连续性：
//   - FinalUpdateID <= LastUpdateID：返回 ErrOutdatedUpdate，不做修改；
//   - FirstUpdateID <= LastUpdateID+1：连续，正常应用；
//   - 否则仍然应用，但订单簿标记为 stale，并返回 *GapError。
func (s *Store) ApplyDiff(ev *model.DiffEvent) error {
	key := ev.Key()

	e := s.get(key)
	if e == nil {
		return fmt.Errorf("%s: %w", key, ErrNoBaseSnapshot)
	}

	bidChanges, err := depth.ParseLevels(ev.BidChanges)
	if err != nil {
		return fmt.Errorf("%s 增量买盘: %w", key, err)
	}
	askChanges, err := depth.ParseLevels(ev.AskChanges)
	if err != nil {
		return fmt.Errorf("%s 增量卖盘: %w", key, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var gapErr *GapError
	if ev.HasSequence() && e.book.LastUpdateID != 0 {
		last := e.book.LastUpdateID
		first := ev.FirstUpdateID
		if first == 0 {
			first = ev.FinalUpdateID
		}
		if ev.FinalUpdateID <= last {
			s.outdated.Add(1)
			return fmt.Errorf("%s 更新 ID %d <= %d: %w", key, ev.FinalUpdateID, last, ErrOutdatedUpdate)
		}
		if first > last+1 {
			gapErr = &GapError{Key: key, ExpectedFirstID: last + 1, FirstID: first, FinalID: ev.FinalUpdateID}
		}
	}

	// 两侧都成功后再一起提交，避免只更新一侧
	bids, err := depth.ApplyChanges(model.SideBid, e.book.Bids, bidChanges)
	if err != nil {
		return fmt.Errorf("%s 增量买盘: %w", key, err)
	}
	asks, err := depth.ApplyChanges(model.SideAsk, e.book.Asks, askChanges)
	if err != nil {
		return fmt.Errorf("%s 增量卖盘: %w", key, err)
	}

	e.book.Bids = bids
	e.book.Asks = asks
	if ev.HasSequence() {
		e.book.LastUpdateID = ev.FinalUpdateID
	}
	e.book.UpdatedAtUnixNs = s.now()
	s.diffs.Add(1)

	if gapErr != nil {
		e.book.Stale = true
		s.gaps.Add(1)
		return gapErr
	}
	return nil
}

// Book 获取订单簿的一致性拷贝
func (s *Store) Book(market, pair string) (*model.OrderBook, bool) {
	e := s.get(model.BookKey{Market: market, Pair: pair})
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Clone(), true
}

// read 在订单簿读锁内执行 fn；订单簿不存在时 fn 收到空订单簿
func (s *Store) read(market, pair string, fn func(b *model.OrderBook)) {
	e := s.get(model.BookKey{Market: market, Pair: pair})
	if e == nil {
		fn(&model.OrderBook{Key: model.BookKey{Market: market, Pair: pair}})
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(&e.book)
}

// Clip 返回截断后的订单簿拷贝，每侧累计数量不超过 maxCumulativeSize
func (s *Store) Clip(market, pair string, maxCumulativeSize decimal.Decimal) (*model.OrderBook, bool) {
	e := s.get(model.BookKey{Market: market, Pair: pair})
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &model.OrderBook{
		Key:             e.book.Key,
		Bids:            depth.Clip(e.book.Bids, maxCumulativeSize),
		Asks:            depth.Clip(e.book.Asks, maxCumulativeSize),
		LastUpdateID:    e.book.LastUpdateID,
		Stale:           e.book.Stale,
		UpdatedAtUnixNs: e.book.UpdatedAtUnixNs,
	}, true
}

// Quote 查询结果，与价格在同一次读锁内取得的订单簿状态
type Quote struct {
	// Price 价格
	Price decimal.Decimal
	// Stale 订单簿是否因序列缺口等待重建
	Stale bool
	// LastUpdateID 订单簿当前的最后更新 ID
	LastUpdateID int64
}

func quoteOf(b *model.OrderBook, px decimal.Decimal) Quote {
	return Quote{Price: px, Stale: b.Stale, LastUpdateID: b.LastUpdateID}
}

// BestBid 买一价，买盘为空时 ok=false
func (s *Store) BestBid(market, pair string) (q Quote, ok bool) {
	s.read(market, pair, func(b *model.OrderBook) {
		var px decimal.Decimal
		px, ok = b.BestBid()
		q = quoteOf(b, px)
	})
	return q, ok
}

// BestAsk 卖一价，卖盘为空时 ok=false
func (s *Store) BestAsk(market, pair string) (q Quote, ok bool) {
	s.read(market, pair, func(b *model.OrderBook) {
		var px decimal.Decimal
		px, ok = b.BestAsk()
		q = quoteOf(b, px)
	})
	return q, ok
}

// TotalSize 单边总数量
func (s *Store) TotalSize(market, pair string, side model.Side) (total decimal.Decimal) {
	s.read(market, pair, func(b *model.OrderBook) { total = depth.Total(b.Levels(side)) })
	return total
}

// SizeAtOrBetter 价格不劣于 price 的累计数量
func (s *Store) SizeAtOrBetter(market, pair string, side model.Side, price decimal.Decimal) (total decimal.Decimal) {
	s.read(market, pair, func(b *model.OrderBook) { total = depth.SizeAtOrBetter(side, b.Levels(side), price) })
	return total
}

// SizeBeyond 价格严格劣于 price 的累计数量
func (s *Store) SizeBeyond(market, pair string, side model.Side, price decimal.Decimal) (total decimal.Decimal) {
	s.read(market, pair, func(b *model.OrderBook) { total = depth.SizeBeyond(side, b.Levels(side), price) })
	return total
}

// PriceForCapacity 累计数量达到 targetSize 时的档位价格
// 该方向无档位（或订单簿不存在）时返回 ErrEmptyBook
func (s *Store) PriceForCapacity(market, pair string, side model.Side, targetSize decimal.Decimal) (q Quote, err error) {
	s.read(market, pair, func(b *model.OrderBook) {
		var px decimal.Decimal
		px, err = depth.PriceForCapacity(b.Levels(side), targetSize)
		q = quoteOf(b, px)
	})
	if err != nil {
		return Quote{}, fmt.Errorf("%s/%s %s: %w", market, pair, side, ErrEmptyBook)
	}
	return q, nil
}

// IsStale 订单簿是否因序列缺口等待重建
func (s *Store) IsStale(market, pair string) (stale bool) {
	s.read(market, pair, func(b *model.OrderBook) { stale = b.Stale })
	return stale
}

// Keys 获取全部订单簿标识（按 market、pair 排序）
func (s *Store) Keys() []model.BookKey {
	s.mu.RLock()
	keys := make([]model.BookKey, 0, len(s.books))
	for k := range s.books {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Market != keys[j].Market {
			return keys[i].Market < keys[j].Market
		}
		return keys[i].Pair < keys[j].Pair
	})
	return keys
}

// Stats 获取统计快照
func (s *Store) Stats() Stats {
	st := Stats{
		SnapshotsApplied: s.snapshots.Load(),
		DiffsApplied:     s.diffs.Load(),
		SequenceGaps:     s.gaps.Load(),
		OutdatedDropped:  s.outdated.Load(),
	}
	for _, k := range s.Keys() {
		e := s.get(k)
		e.mu.RLock()
		st.Books++
		if e.book.Stale {
			st.StaleBooks++
		}
		if e.book.IsCrossed() {
			st.CrossedBooks++
		}
		e.mu.RUnlock()
	}
	return st
}
