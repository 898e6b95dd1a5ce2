package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind discriminates the typed events produced by a market stream
// session.
type EventKind string

const (
	KindDepthDiff    EventKind = "depth_diff"
	KindTrade        EventKind = "trade"
	KindBookTicker   EventKind = "book_ticker"
	KindDisconnected EventKind = "disconnected"
	KindReconnected  EventKind = "reconnected"
)

// MarketEvent is a tagged union of everything a WebSocket session can
// yield. Exactly one of Diff, Trade and Ticker is set for data events;
// connection events carry only the session id.
type MarketEvent struct {
	Kind     EventKind
	Session  string
	Received time.Time

	Diff   *DepthDiff
	Trade  *Trade
	Ticker *BookTicker
}

// PriceLevel is a single (price, quantity) entry on one side of the book.
// Prices and quantities are decimals parsed from the wire strings; a zero
// quantity marks the level for deletion.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// DepthDiff is an incremental order book change covering the inclusive
// update-id range [FirstUpdateID, FinalUpdateID]. Within one exchange
// stream successive diffs are contiguous; across redundant connections
// they repeat and interleave.
type DepthDiff struct {
	EventTime     int64
	Symbol        string
	FirstUpdateID uint64
	FinalUpdateID uint64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// DepthSnapshot is a full order book state as of LastUpdateID.
type DepthSnapshot struct {
	LastUpdateID uint64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// Trade is a single executed trade from the trade stream.
type Trade struct {
	EventTime    int64
	Symbol       string
	ID           int64
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	TradeTime    int64
	IsBuyerMaker bool
}

// BookTicker is a best bid/ask update from the bookTicker stream.
type BookTicker struct {
	UpdateID uint64
	Symbol   string
	BidPrice decimal.Decimal
	BidQty   decimal.Decimal
	AskPrice decimal.Decimal
	AskQty   decimal.Decimal
}

// BookCommand is a dispatcher-to-processor instruction. Exactly one of
// Snapshot and Diff is set.
type BookCommand struct {
	Snapshot *DepthSnapshot
	Diff     *DepthDiff
}

// BookState is the post-mutation view of the order book forwarded to the
// logger: the sequence number whose effect the book reflects plus the
// top levels of each side, bids descending and asks ascending.
type BookState struct {
	Symbol       string
	LastUpdateID uint64
	Bids         []PriceLevel
	Asks         []PriceLevel
	CapturedAt   time.Time
}
