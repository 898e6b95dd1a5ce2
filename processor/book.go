package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "mdcapture/config"
	"mdcapture/internal/channel"
	"mdcapture/logger"
	"mdcapture/models"
)

// BookProcessor is the single owner of the OrderBook. It consumes the
// dispatcher's ordered apply commands one at a time and forwards the
// post-mutation book state downstream after every application.
type BookProcessor struct {
	config   *appconfig.Config
	channels *channel.Channels
	book     *OrderBook
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewBookProcessor(cfg *appconfig.Config, channels *channel.Channels) *BookProcessor {
	return &BookProcessor{
		config:   cfg,
		channels: channels,
		book:     NewOrderBook(),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start begins consuming book commands.
func (p *BookProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("book processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("book_processor").Info("starting book processor")

	p.wg.Add(1)
	go p.run()

	return nil
}

// Stop waits for the processing loop to exit.
func (p *BookProcessor) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.log.WithComponent("book_processor").Info("book processor stopped")
}

func (p *BookProcessor) run() {
	defer p.wg.Done()

	log := p.log.WithComponent("book_processor")

	for {
		select {
		case <-p.ctx.Done():
			log.Info("book processor stopped due to context cancellation")
			return
		case cmd, ok := <-p.channels.Book:
			if !ok {
				return
			}
			p.apply(cmd)
		}
	}
}

func (p *BookProcessor) apply(cmd models.BookCommand) {
	log := p.log.WithComponent("book_processor")

	switch {
	case cmd.Snapshot != nil:
		p.book.ApplySnapshot(cmd.Snapshot)
		log.WithField("last_update_id", p.book.LastUpdateID()).Debug("applied snapshot")
	case cmd.Diff != nil:
		p.book.ApplyDiff(cmd.Diff)
		log.WithField("last_update_id", p.book.LastUpdateID()).Debug("applied diff")
	default:
		log.Warn("empty book command discarded")
		return
	}

	bids, asks := p.book.TopLevels(p.config.Book.StateDepth)
	state := models.BookState{
		Symbol:       p.config.Instrument,
		LastUpdateID: p.book.LastUpdateID(),
		Bids:         bids,
		Asks:         asks,
		CapturedAt:   time.Now().UTC(),
	}

	if p.channels.SendState(p.ctx, state) {
		logger.IncrementStateEmitted()
	}
}
