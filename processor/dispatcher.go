package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	appconfig "mdcapture/config"
	"mdcapture/internal/channel"
	"mdcapture/logger"
	"mdcapture/models"
)

type dispatchState int

const (
	// stateAwaitingSnapshot buffers diffs until a snapshot bridges into
	// them. It doubles as the initial unsynced state.
	stateAwaitingSnapshot dispatchState = iota
	stateSynced
)

// Dispatcher re-establishes total order over the depth diffs arriving
// from all redundant stream sessions. It deduplicates by update-id range,
// detects gaps, reconciles the rolling diff stream with REST snapshots,
// and emits a strictly ordered sequence of apply commands to the book
// processor.
type Dispatcher struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	state        dispatchState
	lastUpdateID uint64
	buffer       *btree.BTreeG[*models.DepthDiff]
	pending      *models.DepthSnapshot
}

func NewDispatcher(cfg *appconfig.Config, channels *channel.Channels) *Dispatcher {
	return &Dispatcher{
		config:   cfg,
		channels: channels,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		state:    stateAwaitingSnapshot,
		buffer: btree.NewG(btreeDegree, func(a, b *models.DepthDiff) bool {
			return a.FinalUpdateID < b.FinalUpdateID
		}),
	}
}

// Start begins consuming the depth and snapshot channels.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.ctx = ctx
	d.mu.Unlock()

	d.log.WithComponent("dispatcher").Info("starting depth event dispatcher")

	d.wg.Add(1)
	go d.run()

	return nil
}

// Stop waits for the dispatch loop to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	d.log.WithComponent("dispatcher").Info("dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	log := d.log.WithComponent("dispatcher")

	for {
		select {
		case <-d.ctx.Done():
			log.Info("dispatcher stopped due to context cancellation")
			return
		case evt, ok := <-d.channels.Depth:
			if !ok {
				return
			}
			switch evt.Kind {
			case models.KindDepthDiff:
				d.handleDiff(evt.Diff)
			case models.KindDisconnected:
				// A gap may follow; the sequence rules catch it.
				log.WithField("session", evt.Session).Warn("depth session disconnected")
			case models.KindReconnected:
				log.WithField("session", evt.Session).Info("depth session reconnected")
			default:
				log.WithField("kind", string(evt.Kind)).Warn("unexpected event on depth channel")
			}
		case snap, ok := <-d.channels.Snapshots:
			if !ok {
				return
			}
			d.handleSnapshot(&snap)
		}
	}
}

func (d *Dispatcher) handleDiff(diff *models.DepthDiff) {
	log := d.log.WithComponent("dispatcher")

	if diff.FirstUpdateID > diff.FinalUpdateID {
		log.WithFields(logger.Fields{
			"first_update_id": diff.FirstUpdateID,
			"final_update_id": diff.FinalUpdateID,
		}).Warn("malformed diff range, dropping")
		return
	}

	if d.state == stateSynced {
		d.handleSyncedDiff(diff)
		return
	}

	d.bufferDiff(diff)
	d.trySync()
}

func (d *Dispatcher) handleSyncedDiff(diff *models.DepthDiff) {
	log := d.log.WithComponent("dispatcher")

	switch {
	case diff.FinalUpdateID <= d.lastUpdateID:
		// Already applied; redundant connections replay constantly.
		log.WithFields(logger.Fields{
			"final_update_id": diff.FinalUpdateID,
			"last_update_id":  d.lastUpdateID,
		}).Debug("duplicate diff discarded")

	case diff.FirstUpdateID <= d.lastUpdateID+1:
		// Contiguous, or an overlapping tail the book absorbs
		// idempotently.
		if !d.emit(models.BookCommand{Diff: diff}) {
			return
		}
		d.lastUpdateID = diff.FinalUpdateID

	default:
		log.WithFields(logger.Fields{
			"expected":        d.lastUpdateID + 1,
			"first_update_id": diff.FirstUpdateID,
			"final_update_id": diff.FinalUpdateID,
		}).Warn("gap in depth sequence, awaiting snapshot")

		d.state = stateAwaitingSnapshot
		d.pending = nil
		d.bufferDiff(diff)
	}
}

// bufferDiff inserts a diff into the awaiting buffer. Diffs with the same
// final update id are considered identical and collapse; the buffer never
// grows beyond the configured bound.
func (d *Dispatcher) bufferDiff(diff *models.DepthDiff) {
	log := d.log.WithComponent("dispatcher")

	if _, dup := d.buffer.ReplaceOrInsert(diff); dup {
		log.WithField("final_update_id", diff.FinalUpdateID).Debug("collapsed duplicate buffered diff")
		return
	}

	for d.buffer.Len() > d.config.Dispatcher.MaxBufferedDiffs {
		if oldest, ok := d.buffer.DeleteMin(); ok {
			log.WithFields(logger.Fields{
				"final_update_id": oldest.FinalUpdateID,
				"buffered":        d.buffer.Len(),
			}).Warn("diff buffer overflow, dropped oldest")
		}
	}
}

func (d *Dispatcher) handleSnapshot(snap *models.DepthSnapshot) {
	log := d.log.WithComponent("dispatcher")

	if d.state == stateSynced {
		// Contiguity is intact; applying a snapshot here would reset a
		// valid book. Stale or not, it is ignored.
		log.WithFields(logger.Fields{
			"snapshot_update_id": snap.LastUpdateID,
			"last_update_id":     d.lastUpdateID,
		}).Debug("snapshot ignored while synced")
		return
	}

	if d.pending == nil || snap.LastUpdateID > d.pending.LastUpdateID {
		d.pending = snap
	}
	d.trySync()
}

// trySync attempts to join the pending snapshot with the buffered diffs:
// the buffer head must bracket the snapshot's successor id. On success the
// snapshot and every contiguous buffered diff are emitted and the
// dispatcher becomes synced.
func (d *Dispatcher) trySync() {
	if d.pending == nil {
		return
	}

	log := d.log.WithComponent("dispatcher")
	snap := d.pending

	// Buffered diffs entirely covered by the snapshot are already
	// reflected in it. They stay useless for any later snapshot too.
	for {
		min, ok := d.buffer.Min()
		if !ok || min.FinalUpdateID > snap.LastUpdateID {
			break
		}
		d.buffer.DeleteMin()
	}

	if d.buffer.Len() == 0 {
		// No bracketing diff yet; retried on the next diff arrival.
		return
	}

	head, _ := d.buffer.Min()
	if head.FirstUpdateID > snap.LastUpdateID+1 {
		// A bridging diff may still arrive out of order from another
		// connection; the snapshot stays pending until then or until a
		// newer snapshot replaces it.
		log.WithFields(logger.Fields{
			"snapshot_update_id": snap.LastUpdateID,
			"buffer_head_first":  head.FirstUpdateID,
		}).Debug("snapshot cannot bridge buffered diffs yet, keeping it pending")
		return
	}

	// head.FirstUpdateID <= snap.LastUpdateID+1 <= head.FinalUpdateID:
	// the snapshot joins the stream here.
	if !d.emit(models.BookCommand{Snapshot: snap}) {
		return
	}
	d.lastUpdateID = snap.LastUpdateID
	d.pending = nil

	for {
		min, ok := d.buffer.Min()
		if !ok {
			break
		}
		if min.FinalUpdateID <= d.lastUpdateID {
			d.buffer.DeleteMin()
			continue
		}
		if min.FirstUpdateID > d.lastUpdateID+1 {
			log.WithFields(logger.Fields{
				"expected":        d.lastUpdateID + 1,
				"first_update_id": min.FirstUpdateID,
			}).Warn("contiguity broke during buffer drain, awaiting fresh snapshot")
			return
		}
		d.buffer.DeleteMin()
		if !d.emit(models.BookCommand{Diff: min}) {
			return
		}
		d.lastUpdateID = min.FinalUpdateID
	}

	d.state = stateSynced
	log.WithField("last_update_id", d.lastUpdateID).Info("depth stream synced")
}

func (d *Dispatcher) emit(cmd models.BookCommand) bool {
	return d.channels.SendBook(d.ctx, cmd)
}
