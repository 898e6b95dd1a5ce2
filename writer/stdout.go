package writer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	appconfig "mdcapture/config"
	"mdcapture/internal/channel"
	"mdcapture/logger"
	"mdcapture/models"
)

// EventLogger is the terminal sink: trades, best-price updates and
// reconstructed book states are serialized one per line to stdout.
// Ordering across the three classes is not guaranteed; within the
// book-state stream it mirrors the dispatcher's emission order.
type EventLogger struct {
	config   *appconfig.Config
	channels *channel.Channels
	out      io.Writer
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewEventLogger(cfg *appconfig.Config, channels *channel.Channels) *EventLogger {
	return &EventLogger{
		config:   cfg,
		channels: channels,
		out:      os.Stdout,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start begins draining the market and book-state channels.
func (l *EventLogger) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("event logger already running")
	}
	l.running = true
	l.ctx = ctx
	l.mu.Unlock()

	l.log.WithComponent("event_logger").Info("starting market event logger")

	l.wg.Add(1)
	go l.run()

	return nil
}

// Stop waits for the logging loop to exit.
func (l *EventLogger) Stop() {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
	l.log.WithComponent("event_logger").Info("event logger stopped")
}

func (l *EventLogger) run() {
	defer l.wg.Done()

	log := l.log.WithComponent("event_logger")

	for {
		select {
		case <-l.ctx.Done():
			log.Info("event logger stopped due to context cancellation")
			return
		case evt, ok := <-l.channels.Market:
			if !ok {
				return
			}
			l.writeMarketEvent(evt)
		case state, ok := <-l.channels.States:
			if !ok {
				return
			}
			fmt.Fprintln(l.out, FormatBookState(state))
		}
	}
}

func (l *EventLogger) writeMarketEvent(evt models.MarketEvent) {
	log := l.log.WithComponent("event_logger")

	switch evt.Kind {
	case models.KindTrade:
		fmt.Fprintln(l.out, FormatTrade(*evt.Trade))
	case models.KindBookTicker:
		fmt.Fprintln(l.out, FormatTicker(*evt.Ticker))
	case models.KindDisconnected:
		log.WithField("session", evt.Session).Warn("market session disconnected")
	case models.KindReconnected:
		log.WithField("session", evt.Session).Info("market session reconnected")
	default:
		log.WithField("kind", string(evt.Kind)).Warn("unexpected event on market channel")
	}
}

// FormatTrade renders one trade line. The side is the aggressor side:
// when the buyer is the maker the trade was a sell.
func FormatTrade(t models.Trade) string {
	side := "buy"
	if t.IsBuyerMaker {
		side = "sell"
	}
	return fmt.Sprintf("TRADE %s id=%d price=%s qty=%s side=%s time=%d",
		t.Symbol, t.ID, t.Price.String(), t.Quantity.String(), side, t.TradeTime)
}

// FormatTicker renders one best-price line.
func FormatTicker(t models.BookTicker) string {
	return fmt.Sprintf("PRICE %s bid=%sx%s ask=%sx%s",
		t.Symbol,
		t.BidPrice.String(), t.BidQty.String(),
		t.AskPrice.String(), t.AskQty.String())
}

// FormatBookState renders one book-state line with the top levels of
// both sides.
func FormatBookState(s models.BookState) string {
	return fmt.Sprintf("BOOK %s last_update_id=%d bids=[%s] asks=[%s]",
		s.Symbol, s.LastUpdateID, formatLevels(s.Bids), formatLevels(s.Asks))
}

func formatLevels(levels []models.PriceLevel) string {
	parts := make([]string, len(levels))
	for i, lvl := range levels {
		parts[i] = fmt.Sprintf("%s@%s", lvl.Price.String(), lvl.Quantity.String())
	}
	return strings.Join(parts, " ")
}
