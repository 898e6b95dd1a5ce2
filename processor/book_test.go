package processor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mdcapture/internal/channel"
	"mdcapture/models"
)

func newTestBookProcessor(t *testing.T) *channel.Channels {
	t.Helper()

	channels := channel.NewChannels(64, 8, 64, 64, 64)
	proc := NewBookProcessor(testConfig(), channels)

	ctx, cancel := context.WithCancel(context.Background())
	if err := proc.Start(ctx); err != nil {
		t.Fatalf("start book processor: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		proc.Stop()
	})
	return channels
}

func sendCommand(t *testing.T, ch *channel.Channels, cmd models.BookCommand) {
	t.Helper()
	select {
	case ch.Book <- cmd:
	case <-time.After(time.Second):
		t.Fatal("timed out sending book command")
	}
}

func recvState(t *testing.T, ch *channel.Channels) models.BookState {
	t.Helper()
	select {
	case state := <-ch.States:
		return state
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for book state")
		return models.BookState{}
	}
}

func TestProcessorEmitsStatePerApplication(t *testing.T) {
	channels := newTestBookProcessor(t)

	sendCommand(t, channels, models.BookCommand{Snapshot: &models.DepthSnapshot{
		LastUpdateID: 100,
		Bids:         []models.PriceLevel{lvl("100.0", "1")},
		Asks:         []models.PriceLevel{lvl("101.0", "2")},
	}})

	state := recvState(t, channels)
	if state.Symbol != "BTCUSDT" {
		t.Errorf("unexpected symbol: %s", state.Symbol)
	}
	if state.LastUpdateID != 100 {
		t.Errorf("unexpected last update id: %d", state.LastUpdateID)
	}
	if len(state.Bids) != 1 || len(state.Asks) != 1 {
		t.Errorf("unexpected levels: %d bids, %d asks", len(state.Bids), len(state.Asks))
	}

	sendCommand(t, channels, models.BookCommand{Diff: &models.DepthDiff{
		FirstUpdateID: 101,
		FinalUpdateID: 105,
		Bids:          []models.PriceLevel{lvl("99.5", "3")},
	}})

	state = recvState(t, channels)
	if state.LastUpdateID != 105 {
		t.Errorf("unexpected last update id after diff: %d", state.LastUpdateID)
	}
	if len(state.Bids) != 2 {
		t.Errorf("diff not reflected: %d bids", len(state.Bids))
	}
}

func TestProcessorStateOmitsDeletedLevels(t *testing.T) {
	channels := newTestBookProcessor(t)

	sendCommand(t, channels, models.BookCommand{Snapshot: &models.DepthSnapshot{
		LastUpdateID: 10,
		Bids:         []models.PriceLevel{lvl("100.50", "2.0"), lvl("100.0", "1.0")},
		Asks:         []models.PriceLevel{lvl("101.0", "1.0")},
	}})
	recvState(t, channels)

	sendCommand(t, channels, models.BookCommand{Diff: &models.DepthDiff{
		FirstUpdateID: 11,
		FinalUpdateID: 11,
		Bids:          []models.PriceLevel{lvl("100.50", "0")},
	}})

	state := recvState(t, channels)
	for _, b := range state.Bids {
		if b.Price.Equal(decimal.RequireFromString("100.50")) {
			t.Errorf("deleted level still present in emitted state")
		}
		if b.Quantity.IsZero() {
			t.Errorf("zero-quantity level in emitted state: %s", b.Price)
		}
	}
	if len(state.Bids) != 1 {
		t.Errorf("unexpected bid count: %d", len(state.Bids))
	}
}

func TestProcessorTruncatesToStateDepth(t *testing.T) {
	channels := channel.NewChannels(64, 8, 64, 64, 64)
	cfg := testConfig()
	cfg.Book.StateDepth = 2
	proc := NewBookProcessor(cfg, channels)

	ctx, cancel := context.WithCancel(context.Background())
	if err := proc.Start(ctx); err != nil {
		t.Fatalf("start book processor: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		proc.Stop()
	})

	snap := &models.DepthSnapshot{LastUpdateID: 1}
	for _, p := range []string{"100", "99", "98", "97"} {
		snap.Bids = append(snap.Bids, lvl(p, "1"))
	}
	sendCommand(t, channels, models.BookCommand{Snapshot: snap})

	state := recvState(t, channels)
	if len(state.Bids) != 2 {
		t.Fatalf("expected 2 bid levels, got %d", len(state.Bids))
	}
	if !state.Bids[0].Price.Equal(decimal.RequireFromString("100")) ||
		!state.Bids[1].Price.Equal(decimal.RequireFromString("99")) {
		t.Errorf("unexpected top levels: %s, %s", state.Bids[0].Price, state.Bids[1].Price)
	}
}

func TestProcessorStateIDsNonDecreasing(t *testing.T) {
	channels := newTestBookProcessor(t)

	sendCommand(t, channels, models.BookCommand{Snapshot: &models.DepthSnapshot{LastUpdateID: 100}})
	sendCommand(t, channels, models.BookCommand{Diff: &models.DepthDiff{FirstUpdateID: 101, FinalUpdateID: 105}})
	sendCommand(t, channels, models.BookCommand{Diff: &models.DepthDiff{FirstUpdateID: 106, FinalUpdateID: 110}})

	var last uint64
	for i := 0; i < 3; i++ {
		state := recvState(t, channels)
		if state.LastUpdateID < last {
			t.Errorf("state ids decreased: %d after %d", state.LastUpdateID, last)
		}
		last = state.LastUpdateID
	}
	if last != 110 {
		t.Errorf("unexpected final id: %d", last)
	}
}
