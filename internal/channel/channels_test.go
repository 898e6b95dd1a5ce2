package channel

import (
	"context"
	"testing"
	"time"

	"mdcapture/models"
)

func TestSendAndStats(t *testing.T) {
	c := NewChannels(4, 2, 4, 4, 4)
	ctx := context.Background()

	if !c.SendDepth(ctx, models.MarketEvent{Kind: models.KindDepthDiff}) {
		t.Fatal("send depth failed")
	}
	if !c.SendSnapshot(ctx, models.DepthSnapshot{LastUpdateID: 1}) {
		t.Fatal("send snapshot failed")
	}
	if !c.SendBook(ctx, models.BookCommand{}) {
		t.Fatal("send book failed")
	}
	if !c.SendState(ctx, models.BookState{}) {
		t.Fatal("send state failed")
	}
	if !c.SendMarket(ctx, models.MarketEvent{Kind: models.KindTrade}) {
		t.Fatal("send market failed")
	}

	stats := c.GetStats()
	if stats.DepthSent != 1 || stats.SnapshotSent != 1 || stats.BookSent != 1 ||
		stats.StateSent != 1 || stats.MarketSent != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if evt := <-c.Depth; evt.Kind != models.KindDepthDiff {
		t.Errorf("unexpected depth event: %+v", evt)
	}
}

func TestSendBlocksUntilCancelled(t *testing.T) {
	c := NewChannels(1, 1, 1, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	if !c.SendBook(ctx, models.BookCommand{}) {
		t.Fatal("first send should succeed")
	}

	done := make(chan bool, 1)
	go func() {
		// Channel is full: this send must block until cancellation.
		done <- c.SendBook(ctx, models.BookCommand{})
	}()

	select {
	case <-done:
		t.Fatal("send on full channel returned before cancellation")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Error("cancelled send reported success")
		}
	case <-time.After(time.Second):
		t.Fatal("send did not observe cancellation")
	}
}
