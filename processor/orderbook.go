package processor

import (
	"github.com/google/btree"

	"mdcapture/models"
)

const btreeDegree = 16

// OrderBook is the in-memory price-level book. Each side is an ordered
// tree keyed by decimal price: bids iterate highest-first, asks
// lowest-first. The book reflects every update with id up to and
// including lastUpdateID.
//
// The book is not safe for concurrent use; it is owned by exactly one
// BookProcessor goroutine.
type OrderBook struct {
	bids         *btree.BTreeG[models.PriceLevel]
	asks         *btree.BTreeG[models.PriceLevel]
	lastUpdateID uint64
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: btree.NewG(btreeDegree, func(a, b models.PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		}),
		asks: btree.NewG(btreeDegree, func(a, b models.PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
	}
}

// LastUpdateID returns the highest sequence number whose effect is
// reflected in the book.
func (b *OrderBook) LastUpdateID() uint64 {
	return b.lastUpdateID
}

// ApplySnapshot replaces both sides entirely with the snapshot's levels.
// Zero-quantity levels in the snapshot are discarded.
func (b *OrderBook) ApplySnapshot(snap *models.DepthSnapshot) {
	b.bids.Clear(false)
	b.asks.Clear(false)

	for _, lvl := range snap.Bids {
		if !lvl.Quantity.IsZero() {
			b.bids.ReplaceOrInsert(lvl)
		}
	}
	for _, lvl := range snap.Asks {
		if !lvl.Quantity.IsZero() {
			b.asks.ReplaceOrInsert(lvl)
		}
	}

	b.lastUpdateID = snap.LastUpdateID
}

// ApplyDiff applies an incremental update: a zero quantity removes the
// level (no-op when absent), anything else inserts or overwrites. The
// book's sequence number advances to the diff's final update id.
func (b *OrderBook) ApplyDiff(diff *models.DepthDiff) {
	applySide(b.bids, diff.Bids)
	applySide(b.asks, diff.Asks)
	b.lastUpdateID = diff.FinalUpdateID
}

func applySide(side *btree.BTreeG[models.PriceLevel], levels []models.PriceLevel) {
	for _, lvl := range levels {
		if lvl.Quantity.IsZero() {
			side.Delete(lvl)
		} else {
			side.ReplaceOrInsert(lvl)
		}
	}
}

// BestBid returns the highest bid level.
func (b *OrderBook) BestBid() (models.PriceLevel, bool) {
	return b.bids.Min()
}

// BestAsk returns the lowest ask level.
func (b *OrderBook) BestAsk() (models.PriceLevel, bool) {
	return b.asks.Min()
}

// Depth returns the number of levels on each side.
func (b *OrderBook) Depth() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}

// TopLevels copies out up to n levels from each side, bids descending
// and asks ascending by price.
func (b *OrderBook) TopLevels(n int) (bids, asks []models.PriceLevel) {
	bids = topLevels(b.bids, n)
	asks = topLevels(b.asks, n)
	return bids, asks
}

func topLevels(side *btree.BTreeG[models.PriceLevel], n int) []models.PriceLevel {
	if n <= 0 {
		return nil
	}
	out := make([]models.PriceLevel, 0, n)
	side.Ascend(func(lvl models.PriceLevel) bool {
		out = append(out, lvl)
		return len(out) < n
	})
	return out
}
