package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BinanceDepthEvent mirrors Binance's diff depth websocket event.
type BinanceDepthEvent struct {
	Event         string       `json:"e"`
	Time          int64        `json:"E"`
	Symbol        string       `json:"s"`
	FirstUpdateID uint64       `json:"U"`
	FinalUpdateID uint64       `json:"u"`
	Bids          []PriceLevel `json:"b"`
	Asks          []PriceLevel `json:"a"`
}

// BinanceTradeEvent mirrors Binance's trade websocket event.
type BinanceTradeEvent struct {
	Event        string          `json:"e"`
	Time         int64           `json:"E"`
	Symbol       string          `json:"s"`
	TradeID      int64           `json:"t"`
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"T"`
	IsBuyerMaker bool            `json:"m"`
	// Ignore holds the unused "M" flag; declaring it keeps encoding/json's
	// case-insensitive matching from decoding "M" into IsBuyerMaker.
	Ignore bool `json:"M"`
}

// BinanceBookTickerEvent mirrors Binance's bookTicker websocket event.
// It carries no "e" discriminator; it is recognized by its field layout.
type BinanceBookTickerEvent struct {
	UpdateID uint64          `json:"u"`
	Symbol   string          `json:"s"`
	BidPrice decimal.Decimal `json:"b"`
	BidQty   decimal.Decimal `json:"B"`
	AskPrice decimal.Decimal `json:"a"`
	AskQty   decimal.Decimal `json:"A"`
}

// BinanceDepthRestResponse mirrors the REST depth endpoint payload.
type BinanceDepthRestResponse struct {
	LastUpdateID uint64       `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// streamEnvelope is the combined-stream wrapper used by the
// /stream?streams=... endpoint. Single-stream sessions deliver the bare
// event instead.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes the wire form of a price level, a two-element
// array of decimal strings.
func (pl *PriceLevel) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 2 {
		return fmt.Errorf("price level: expected 2 elements, got %d", len(arr))
	}

	price, err := decimal.NewFromString(arr[0])
	if err != nil {
		return fmt.Errorf("price level: bad price %q: %w", arr[0], err)
	}
	qty, err := decimal.NewFromString(arr[1])
	if err != nil {
		return fmt.Errorf("price level: bad quantity %q: %w", arr[1], err)
	}

	pl.Price = price
	pl.Quantity = qty
	return nil
}

// MarshalJSON writes the wire form back out, mirroring UnmarshalJSON.
func (pl PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{pl.Price.String(), pl.Quantity.String()})
}

// ParseStreamMessage decodes one inbound websocket message into exactly
// one typed market event. It accepts both bare events and the
// combined-stream envelope, and distinguishes event kinds by the "e"
// field, falling back to the bookTicker layout which has none.
func ParseStreamMessage(data []byte) (*MarketEvent, error) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Data) > 0 {
		data = env.Data
	}

	// "E" is declared so encoding/json's case-insensitive matching does
	// not decode the numeric event time into Event.
	var probe struct {
		Event     string          `json:"e"`
		EventTime json.RawMessage `json:"E"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch probe.Event {
	case "depthUpdate":
		var evt BinanceDepthEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode depth event: %w", err)
		}
		return &MarketEvent{Kind: KindDepthDiff, Diff: &DepthDiff{
			EventTime:     evt.Time,
			Symbol:        evt.Symbol,
			FirstUpdateID: evt.FirstUpdateID,
			FinalUpdateID: evt.FinalUpdateID,
			Bids:          evt.Bids,
			Asks:          evt.Asks,
		}}, nil

	case "trade":
		var evt BinanceTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode trade event: %w", err)
		}
		return &MarketEvent{Kind: KindTrade, Trade: &Trade{
			EventTime:    evt.Time,
			Symbol:       evt.Symbol,
			ID:           evt.TradeID,
			Price:        evt.Price,
			Quantity:     evt.Quantity,
			TradeTime:    evt.TradeTime,
			IsBuyerMaker: evt.IsBuyerMaker,
		}}, nil

	case "":
		var evt BinanceBookTickerEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode bookTicker event: %w", err)
		}
		if evt.Symbol == "" || evt.UpdateID == 0 {
			return nil, fmt.Errorf("unrecognized message layout")
		}
		return &MarketEvent{Kind: KindBookTicker, Ticker: &BookTicker{
			UpdateID: evt.UpdateID,
			Symbol:   evt.Symbol,
			BidPrice: evt.BidPrice,
			BidQty:   evt.BidQty,
			AskPrice: evt.AskPrice,
			AskQty:   evt.AskQty,
		}}, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", probe.Event)
	}
}
