package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	appconfig "mdcapture/config"
	"mdcapture/internal/channel"
	"mdcapture/logger"
	"mdcapture/models"
)

// SnapshotReader periodically fetches full depth snapshots over the REST
// API and forwards them to the dispatcher. Transient failures only skip a
// tick; an exchange rejection of a well-formed request means the
// configuration is wrong and is reported as fatal.
type SnapshotReader struct {
	config      *appconfig.Config
	channels    *channel.Channels
	client      *binance.Client
	limiter     *rate.Limiter
	fatal       chan<- error
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	weightLimit int64
}

// NewSnapshotReader builds a reader pointed at the configured REST
// endpoint. Fatal configuration errors discovered at runtime are sent to
// the fatal channel.
func NewSnapshotReader(cfg *appconfig.Config, channels *channel.Channels, fatal chan<- error) *SnapshotReader {
	log := logger.GetLogger()

	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	if parsed, err := url.Parse(cfg.BinanceRestEndpoint); err == nil {
		client.SetApiEndpoint(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host))
	}

	return &SnapshotReader{
		config:   cfg,
		channels: channels,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rest.RequestsPerSecond), cfg.Rest.Burst),
		fatal:    fatal,
		wg:       &sync.WaitGroup{},
		log:      log,
	}
}

// Start begins the periodic snapshot fetch loop.
func (r *SnapshotReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("snapshot reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("snapshot_reader")

	if limit, err := fetchRequestWeightLimit(ctx, r.client); err == nil {
		r.weightLimit = limit
	} else {
		log.WithError(err).Warn("failed to fetch request weight limit")
	}

	log.WithFields(logger.Fields{
		"instrument": r.config.Instrument,
		"max_depth":  r.config.MaxDepth,
		"interval":   r.config.SnapshotUpdateInterval,
	}).Info("starting snapshot reader")

	r.wg.Add(1)
	go r.fetchWorker()

	return nil
}

// Stop waits for the fetch loop to exit.
func (r *SnapshotReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.log.WithComponent("snapshot_reader").Info("snapshot reader stopped")
}

func (r *SnapshotReader) fetchWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("snapshot_reader").WithFields(logger.Fields{
		"worker": "snapshot_fetcher",
	})

	interval := time.Duration(r.config.SnapshotUpdateInterval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// The dispatcher wants a snapshot as soon as possible after start.
	r.fetchSnapshot()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			start := time.Now()
			r.fetchSnapshot()
			if d := time.Since(start); d > interval {
				log.WithFields(logger.Fields{
					"duration_ms": d.Milliseconds(),
					"interval_ms": r.config.SnapshotUpdateInterval,
				}).Warn("fetch took longer than interval")
			}
		}
	}
}

func (r *SnapshotReader) fetchSnapshot() {
	log := r.log.WithComponent("snapshot_reader").WithFields(logger.Fields{
		"instrument": r.config.Instrument,
		"operation":  "fetch_snapshot",
	})

	if err := r.limiter.Wait(r.ctx); err != nil {
		return
	}

	reqURL := snapshotURL(r.config)
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		log.WithError(err).Warn("failed to build snapshot request")
		return
	}

	resp, err := r.client.HTTPClient.Do(req)
	if err != nil {
		if r.ctx.Err() == nil {
			log.WithError(err).Warn("failed to fetch snapshot")
		}
		return
	}
	defer resp.Body.Close()

	r.reportUsedWeight(resp.Header)

	switch {
	case resp.StatusCode >= 500:
		log.WithField("status", resp.StatusCode).Warn("snapshot request failed upstream")
		return
	case resp.StatusCode >= 400:
		// The exchange rejected a well-formed request: bad symbol, bad
		// limit, or a banned key. Retrying cannot help.
		err := fmt.Errorf("snapshot request rejected with status %d for %s", resp.StatusCode, reqURL)
		log.WithError(err).Error("fatal snapshot rejection")
		select {
		case r.fatal <- err:
		default:
		}
		return
	}

	var restResp models.BinanceDepthRestResponse
	if err := json.NewDecoder(resp.Body).Decode(&restResp); err != nil {
		log.WithError(err).Warn("failed to decode snapshot")
		return
	}

	snapshot := models.DepthSnapshot{
		LastUpdateID: restResp.LastUpdateID,
		Bids:         restResp.Bids,
		Asks:         restResp.Asks,
	}

	if r.channels.SendSnapshot(r.ctx, snapshot) {
		logger.IncrementSnapshotRead(len(snapshot.Bids) + len(snapshot.Asks))
		log.WithFields(logger.Fields{
			"last_update_id": snapshot.LastUpdateID,
			"bids":           len(snapshot.Bids),
			"asks":           len(snapshot.Asks),
		}).Debug("snapshot forwarded to dispatcher")
	}
}

func (r *SnapshotReader) reportUsedWeight(header http.Header) {
	usedStr := header.Get("X-MBX-USED-WEIGHT-1m")
	if usedStr == "" {
		return
	}
	used, err := strconv.ParseInt(usedStr, 10, 64)
	if err != nil {
		return
	}

	log := r.log.WithComponent("snapshot_reader").WithFields(logger.Fields{
		"used_weight":  used,
		"weight_limit": r.weightLimit,
	})
	if r.weightLimit > 0 && used > r.weightLimit*8/10 {
		log.Warn("request weight approaching limit")
	} else {
		log.Debug("request weight")
	}
}

// fetchRequestWeightLimit queries the exchangeInfo endpoint for the
// REQUEST_WEIGHT per minute limit. It returns 0 if the limit cannot be
// determined.
func fetchRequestWeightLimit(ctx context.Context, client *binance.Client) (int64, error) {
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, rl := range info.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			return rl.Limit, nil
		}
	}
	return 0, nil
}

func snapshotURL(cfg *appconfig.Config) string {
	return fmt.Sprintf("%s/depth?symbol=%s&limit=%d",
		strings.TrimSuffix(cfg.BinanceRestEndpoint, "/"),
		cfg.Instrument,
		cfg.MaxDepth)
}
