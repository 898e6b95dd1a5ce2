package binance

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mdcapture/logger"
	"mdcapture/models"
)

// forwardFunc delivers a typed event downstream. It blocks while the
// consumer is slower and returns false once the context is cancelled.
type forwardFunc func(ctx context.Context, evt models.MarketEvent) bool

// streamSession is one WebSocket connection to a market data stream. It
// decodes every inbound message into exactly one typed event, forwards
// it, and reconnects forever with a fixed delay. Connection transitions
// are surfaced as Disconnected/Reconnected events on the same output.
type streamSession struct {
	name           string
	url            string
	sessionID      string
	reconnectDelay time.Duration
	forward        forwardFunc
	log            *logger.Entry
}

func newStreamSession(name, url string, reconnectDelay time.Duration, forward forwardFunc) *streamSession {
	sessionID := uuid.New().String()
	log := logger.GetLogger().WithComponent("market_stream").WithFields(logger.Fields{
		"stream":  name,
		"session": sessionID,
	})
	return &streamSession{
		name:           name,
		url:            url,
		sessionID:      sessionID,
		reconnectDelay: reconnectDelay,
		forward:        forward,
		log:            log,
	}
}

// run maintains the session until the context is cancelled.
func (s *streamSession) run(ctx context.Context) {
	dialer := websocket.DefaultDialer
	connectedBefore := false

	s.log.WithField("url", s.url).Info("starting stream session")

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Warn("failed to connect to websocket")
			if waitReconnect(ctx, s.reconnectDelay) {
				return
			}
			continue
		}

		if connectedBefore {
			logger.IncrementReconnect()
			s.log.Info("stream session reconnected")
			if !s.forward(ctx, models.MarketEvent{
				Kind:     models.KindReconnected,
				Session:  s.sessionID,
				Received: time.Now().UTC(),
			}) {
				conn.Close()
				return
			}
		}
		connectedBefore = true

		err = s.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		s.log.WithError(err).Warn("stream session ended")
		if !s.forward(ctx, models.MarketEvent{
			Kind:     models.KindDisconnected,
			Session:  s.sessionID,
			Received: time.Now().UTC(),
		}) {
			return
		}

		if waitReconnect(ctx, s.reconnectDelay) {
			return
		}
	}
}

// readTimeout bounds the silence tolerated on a connection. The exchange
// pings every few minutes; a connection quiet for longer is dead.
const readTimeout = 5 * time.Minute

// readLoop decodes messages until the connection fails. Decode errors on
// a single message are logged and skipped; they never tear down the
// session.
func (s *streamSession) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		evt, err := models.ParseStreamMessage(msg)
		if err != nil {
			s.log.WithError(err).Warn("failed to decode stream message, skipping")
			continue
		}

		evt.Session = s.sessionID
		evt.Received = time.Now().UTC()

		if !s.forward(ctx, *evt) {
			return ctx.Err()
		}
	}
}

// waitReconnect sleeps for the fixed reconnect delay. It reports true when
// the context was cancelled while waiting.
func waitReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func wsBase(endpoint string) string {
	return strings.TrimSuffix(endpoint, "/")
}
