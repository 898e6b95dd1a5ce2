package writer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mdcapture/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFormatTrade(t *testing.T) {
	line := FormatTrade(models.Trade{
		Symbol:       "BTCUSDT",
		ID:           12345,
		Price:        dec("50000.10"),
		Quantity:     dec("0.5"),
		TradeTime:    1672515782136,
		IsBuyerMaker: true,
	})

	want := "TRADE BTCUSDT id=12345 price=50000.1 qty=0.5 side=sell time=1672515782136"
	if line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}

func TestFormatTradeBuySide(t *testing.T) {
	line := FormatTrade(models.Trade{
		Symbol:    "BTCUSDT",
		ID:        1,
		Price:     dec("1"),
		Quantity:  dec("2"),
		TradeTime: 10,
	})

	want := "TRADE BTCUSDT id=1 price=1 qty=2 side=buy time=10"
	if line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}

func TestFormatTicker(t *testing.T) {
	line := FormatTicker(models.BookTicker{
		Symbol:   "BTCUSDT",
		BidPrice: dec("50000.0"),
		BidQty:   dec("1.2"),
		AskPrice: dec("50000.1"),
		AskQty:   dec("0.8"),
	})

	want := "PRICE BTCUSDT bid=50000x1.2 ask=50000.1x0.8"
	if line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}

func TestFormatBookState(t *testing.T) {
	line := FormatBookState(models.BookState{
		Symbol:       "BTCUSDT",
		LastUpdateID: 160,
		Bids: []models.PriceLevel{
			{Price: dec("100.5"), Quantity: dec("2")},
			{Price: dec("100.0"), Quantity: dec("1")},
		},
		Asks: []models.PriceLevel{
			{Price: dec("100.6"), Quantity: dec("3")},
		},
		CapturedAt: time.Unix(0, 0),
	})

	want := "BOOK BTCUSDT last_update_id=160 bids=[100.5@2 100@1] asks=[100.6@3]"
	if line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}

func TestFormatBookStateEmptySides(t *testing.T) {
	line := FormatBookState(models.BookState{
		Symbol:       "BTCUSDT",
		LastUpdateID: 1,
	})

	want := "BOOK BTCUSDT last_update_id=1 bids=[] asks=[]"
	if line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}
