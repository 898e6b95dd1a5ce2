package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	appconfig "mdcapture/config"
	"mdcapture/internal/channel"
	"mdcapture/logger"
	"mdcapture/models"
)

// DepthReader runs the configured number of redundant depth stream
// sessions. Every session subscribes to the same diff depth stream for
// the instrument; their overlapping outputs all fan into the dispatcher's
// depth channel, where duplicates are collapsed by sequence number.
type DepthReader struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewDepthReader(cfg *appconfig.Config, channels *channel.Channels) *DepthReader {
	return &DepthReader{
		config:   cfg,
		channels: channels,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start launches one stream session per configured connection.
func (r *DepthReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("depth reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("depth_reader")
	url := depthStreamURL(r.config)

	log.WithFields(logger.Fields{
		"url":         url,
		"connections": r.config.Connections,
	}).Info("starting depth reader")

	for i := 0; i < r.config.Connections; i++ {
		session := newStreamSession(
			fmt.Sprintf("depth-%d", i),
			url,
			time.Duration(r.config.ReconnectTimeout)*time.Millisecond,
			r.forward,
		)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			session.run(ctx)
		}()
	}

	return nil
}

// Stop waits for all sessions to release their connections.
func (r *DepthReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.log.WithComponent("depth_reader").Info("depth reader stopped")
}

func (r *DepthReader) forward(ctx context.Context, evt models.MarketEvent) bool {
	switch evt.Kind {
	case models.KindDepthDiff:
		logger.IncrementDiffRead(len(evt.Diff.Bids) + len(evt.Diff.Asks))
	case models.KindDisconnected, models.KindReconnected:
		// Forwarded so the dispatcher can correlate gaps with drops.
	default:
		r.log.WithComponent("depth_reader").WithFields(logger.Fields{
			"kind":    string(evt.Kind),
			"session": evt.Session,
		}).Warn("unexpected event kind on depth stream, dropping")
		return true
	}

	return r.channels.SendDepth(ctx, evt)
}

func depthStreamURL(cfg *appconfig.Config) string {
	return fmt.Sprintf("%s/ws/%s@depth@100ms",
		wsBase(cfg.BinanceWssEndpoint),
		strings.ToLower(cfg.Instrument))
}
