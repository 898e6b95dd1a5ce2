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

// MarketReader runs the single combined trade + bookTicker session and
// forwards its events straight to the logger's market channel.
type MarketReader struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewMarketReader(cfg *appconfig.Config, channels *channel.Channels) *MarketReader {
	return &MarketReader{
		config:   cfg,
		channels: channels,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start launches the combined session.
func (r *MarketReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("market reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	url := marketStreamURL(r.config)
	r.log.WithComponent("market_reader").WithField("url", url).Info("starting market reader")

	session := newStreamSession(
		"market",
		url,
		time.Duration(r.config.ReconnectTimeout)*time.Millisecond,
		r.forward,
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		session.run(ctx)
	}()

	return nil
}

// Stop waits for the session to release its connection.
func (r *MarketReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.log.WithComponent("market_reader").Info("market reader stopped")
}

func (r *MarketReader) forward(ctx context.Context, evt models.MarketEvent) bool {
	switch evt.Kind {
	case models.KindTrade:
		logger.IncrementTradeRead(1)
	case models.KindBookTicker, models.KindDisconnected, models.KindReconnected:
	default:
		r.log.WithComponent("market_reader").WithFields(logger.Fields{
			"kind":    string(evt.Kind),
			"session": evt.Session,
		}).Warn("unexpected event kind on market stream, dropping")
		return true
	}

	return r.channels.SendMarket(ctx, evt)
}

func marketStreamURL(cfg *appconfig.Config) string {
	instrument := strings.ToLower(cfg.Instrument)
	return fmt.Sprintf("%s/stream?streams=%s@trade/%s@bookTicker",
		wsBase(cfg.BinanceWssEndpoint), instrument, instrument)
}
