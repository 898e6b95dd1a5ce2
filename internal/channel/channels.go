package channel

import (
	"context"
	"sync"
	"time"

	"mdcapture/logger"
	"mdcapture/models"
)

// Stats counts traffic through the pipeline channels.
type Stats struct {
	DepthSent    int64
	SnapshotSent int64
	BookSent     int64
	StateSent    int64
	MarketSent   int64
}

// Channels wires the capture pipeline together. Every channel is bounded;
// senders on the core path block when the downstream is slower, so
// backpressure is the only flow-control mechanism.
type Channels struct {
	// Depth carries diffs (and connection events) from all depth stream
	// sessions into the dispatcher.
	Depth chan models.MarketEvent
	// Snapshots carries REST snapshots into the dispatcher.
	Snapshots chan models.DepthSnapshot
	// Book carries ordered apply commands from the dispatcher to the
	// book processor.
	Book chan models.BookCommand
	// States carries post-mutation book states to the logger.
	States chan models.BookState
	// Market carries trades, bookTicker updates and connection events
	// from the combined session to the logger.
	Market chan models.MarketEvent

	stats      Stats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(depthBuffer, snapshotBuffer, bookBuffer, stateBuffer, marketBuffer int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Depth:     make(chan models.MarketEvent, depthBuffer),
		Snapshots: make(chan models.DepthSnapshot, snapshotBuffer),
		Book:      make(chan models.BookCommand, bookBuffer),
		States:    make(chan models.BookState, stateBuffer),
		Market:    make(chan models.MarketEvent, marketBuffer),
		log:       log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"depth_buffer":    depthBuffer,
		"snapshot_buffer": snapshotBuffer,
		"book_buffer":     bookBuffer,
		"state_buffer":    stateBuffer,
		"market_buffer":   marketBuffer,
	}).Info("pipeline channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Depth)
	close(c.Snapshots)
	close(c.Book)
	close(c.States)
	close(c.Market)
	c.log.WithComponent("channels").Info("pipeline channels closed")
}

// SendDepth blocks until the event is accepted or the context is done.
func (c *Channels) SendDepth(ctx context.Context, evt models.MarketEvent) bool {
	select {
	case c.Depth <- evt:
		c.increment(func(s *Stats) { s.DepthSent++ })
		return true
	case <-ctx.Done():
		return false
	}
}

// SendSnapshot blocks until the snapshot is accepted or the context is done.
func (c *Channels) SendSnapshot(ctx context.Context, snap models.DepthSnapshot) bool {
	select {
	case c.Snapshots <- snap:
		c.increment(func(s *Stats) { s.SnapshotSent++ })
		return true
	case <-ctx.Done():
		return false
	}
}

// SendBook blocks until the command is accepted or the context is done.
func (c *Channels) SendBook(ctx context.Context, cmd models.BookCommand) bool {
	select {
	case c.Book <- cmd:
		c.increment(func(s *Stats) { s.BookSent++ })
		return true
	case <-ctx.Done():
		return false
	}
}

// SendState blocks until the state is accepted or the context is done.
func (c *Channels) SendState(ctx context.Context, state models.BookState) bool {
	select {
	case c.States <- state:
		c.increment(func(s *Stats) { s.StateSent++ })
		return true
	case <-ctx.Done():
		return false
	}
}

// SendMarket blocks until the event is accepted or the context is done.
func (c *Channels) SendMarket(ctx context.Context, evt models.MarketEvent) bool {
	select {
	case c.Market <- evt:
		c.increment(func(s *Stats) { s.MarketSent++ })
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) increment(f func(*Stats)) {
	c.statsMutex.Lock()
	f(&c.stats)
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting periodically logs channel depths so a stalled
// consumer shows up before backpressure reaches the sockets.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.GetStats()
			c.log.WithComponent("channels").WithFields(logger.Fields{
				"depth_len":     len(c.Depth),
				"depth_cap":     cap(c.Depth),
				"snapshots_len": len(c.Snapshots),
				"book_len":      len(c.Book),
				"states_len":    len(c.States),
				"market_len":    len(c.Market),
				"depth_sent":    stats.DepthSent,
				"snapshot_sent": stats.SnapshotSent,
				"book_sent":     stats.BookSent,
				"state_sent":    stats.StateSent,
				"market_sent":   stats.MarketSent,
			}).Debug("channel metrics")

			logger.RecordChannelMessage("depth_queue", len(c.Depth))
			logger.RecordChannelMessage("book_queue", len(c.Book))
			logger.RecordChannelMessage("state_queue", len(c.States))
		}
	}
}
