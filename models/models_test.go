package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

const depthEventJSON = `{
  "e": "depthUpdate",
  "E": 1672515782136,
  "s": "BTCUSDT",
  "U": 157,
  "u": 160,
  "b": [["0.0024", "10"], ["0.0022", "0"]],
  "a": [["0.0026", "100"]]
}`

const tradeEventJSON = `{
  "e": "trade",
  "E": 1672515782136,
  "s": "BTCUSDT",
  "t": 12345,
  "p": "0.001",
  "q": "100",
  "T": 1672515782136,
  "m": true,
  "M": true
}`

const bookTickerJSON = `{
  "u": 400900217,
  "s": "BNBUSDT",
  "b": "25.35190000",
  "B": "31.21000000",
  "a": "25.36520000",
  "A": "40.66000000"
}`

func TestParseDepthEvent(t *testing.T) {
	evt, err := ParseStreamMessage([]byte(depthEventJSON))
	if err != nil {
		t.Fatalf("parse depth event: %v", err)
	}
	if evt.Kind != KindDepthDiff {
		t.Fatalf("unexpected kind: %s", evt.Kind)
	}

	diff := evt.Diff
	if diff.Symbol != "BTCUSDT" {
		t.Errorf("unexpected symbol: %s", diff.Symbol)
	}
	if diff.FirstUpdateID != 157 || diff.FinalUpdateID != 160 {
		t.Errorf("unexpected range: %d-%d", diff.FirstUpdateID, diff.FinalUpdateID)
	}
	if len(diff.Bids) != 2 || len(diff.Asks) != 1 {
		t.Fatalf("unexpected levels: %d bids, %d asks", len(diff.Bids), len(diff.Asks))
	}
	if !diff.Bids[0].Price.Equal(decimal.RequireFromString("0.0024")) {
		t.Errorf("unexpected bid price: %s", diff.Bids[0].Price)
	}
	if !diff.Bids[1].Quantity.IsZero() {
		t.Errorf("expected zero-quantity deletion sentinel, got %s", diff.Bids[1].Quantity)
	}
}

func TestParseTradeEvent(t *testing.T) {
	evt, err := ParseStreamMessage([]byte(tradeEventJSON))
	if err != nil {
		t.Fatalf("parse trade event: %v", err)
	}
	if evt.Kind != KindTrade {
		t.Fatalf("unexpected kind: %s", evt.Kind)
	}

	trade := evt.Trade
	if trade.ID != 12345 {
		t.Errorf("unexpected trade id: %d", trade.ID)
	}
	if !trade.Price.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("unexpected price: %s", trade.Price)
	}
	if !trade.Quantity.Equal(decimal.RequireFromString("100")) {
		t.Errorf("unexpected quantity: %s", trade.Quantity)
	}
	if !trade.IsBuyerMaker {
		t.Error("expected buyer maker flag")
	}
}

func TestParseBookTickerEvent(t *testing.T) {
	evt, err := ParseStreamMessage([]byte(bookTickerJSON))
	if err != nil {
		t.Fatalf("parse bookTicker event: %v", err)
	}
	if evt.Kind != KindBookTicker {
		t.Fatalf("unexpected kind: %s", evt.Kind)
	}

	ticker := evt.Ticker
	if ticker.Symbol != "BNBUSDT" || ticker.UpdateID != 400900217 {
		t.Errorf("unexpected ticker header: %+v", ticker)
	}
	if !ticker.BidPrice.Equal(decimal.RequireFromString("25.3519")) {
		t.Errorf("unexpected bid price: %s", ticker.BidPrice)
	}
	if !ticker.AskQty.Equal(decimal.RequireFromString("40.66")) {
		t.Errorf("unexpected ask quantity: %s", ticker.AskQty)
	}
}

func TestParseCombinedStreamEnvelope(t *testing.T) {
	wrapped := `{"stream":"btcusdt@trade","data":` + tradeEventJSON + `}`

	evt, err := ParseStreamMessage([]byte(wrapped))
	if err != nil {
		t.Fatalf("parse wrapped event: %v", err)
	}
	if evt.Kind != KindTrade {
		t.Fatalf("unexpected kind: %s", evt.Kind)
	}
	if evt.Trade.Symbol != "BTCUSDT" {
		t.Errorf("unexpected symbol: %s", evt.Trade.Symbol)
	}
}

func TestParseStreamMessageErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"malformed json", `{"e": "depthUpdate",`},
		{"unknown event", `{"e": "kline", "s": "BTCUSDT"}`},
		{"unrecognized layout", `{"foo": "bar"}`},
		{"bad price level", `{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":2,"b":[["abc","1"]],"a":[]}`},
		{"short price level", `{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":2,"b":[["1.0"]],"a":[]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseStreamMessage([]byte(tc.data)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestDepthRestResponseDecode(t *testing.T) {
	payload := `{
	  "lastUpdateId": 1027024,
	  "bids": [["4.00000000", "431.00000000"]],
	  "asks": [["4.00000200", "12.00000000"]]
	}`

	var resp BinanceDepthRestResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		t.Fatalf("decode rest response: %v", err)
	}
	if resp.LastUpdateID != 1027024 {
		t.Errorf("unexpected lastUpdateId: %d", resp.LastUpdateID)
	}
	if len(resp.Bids) != 1 || len(resp.Asks) != 1 {
		t.Fatalf("unexpected levels: %d bids, %d asks", len(resp.Bids), len(resp.Asks))
	}
	if !resp.Bids[0].Price.Equal(decimal.RequireFromString("4")) {
		t.Errorf("unexpected bid price: %s", resp.Bids[0].Price)
	}
}

func TestPriceLevelRoundTrip(t *testing.T) {
	in := []byte(`["100.50","2.75"]`)

	var lvl PriceLevel
	if err := json.Unmarshal(in, &lvl); err != nil {
		t.Fatalf("unmarshal price level: %v", err)
	}

	out, err := json.Marshal(lvl)
	if err != nil {
		t.Fatalf("marshal price level: %v", err)
	}
	if string(out) != `["100.5","2.75"]` {
		t.Errorf("unexpected wire form: %s", out)
	}
}
