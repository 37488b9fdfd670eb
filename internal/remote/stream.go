package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/folio/internal/domain"
)

const (
	streamWriteWait   = 10 * time.Second
	streamDialTimeout = 30 * time.Second

	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// QuoteSink receives live quote updates from the stream
type QuoteSink interface {
	Put(quote domain.Quote) error
}

// QuoteStream maintains a websocket subscription for live quote updates and
// writes them into the quote cache. The stream is best-effort: the app works
// without it, falling back to polled quotes, so connection failures only log
// and retry.
type QuoteStream struct {
	url  string
	sink QuoteSink
	log  zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool

	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	subMu   sync.Mutex
	tickers map[string]struct{}
}

// NewQuoteStream creates a quote stream client. Tickers of interest are
// registered with Watch before or after Start.
func NewQuoteStream(url string, sink QuoteSink, log zerolog.Logger) *QuoteStream {
	return &QuoteStream{
		url:      url,
		sink:     sink,
		log:      log.With().Str("component", "quote_stream").Logger(),
		stopChan: make(chan struct{}),
		tickers:  make(map[string]struct{}),
	}
}

// Start connects and begins the read loop. A failed initial connection is not
// fatal; reconnection continues in the background.
func (s *QuoteStream) Start() error {
	s.log.Info().Str("url", s.url).Msg("Starting quote stream")

	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial quote stream connection failed, will retry in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readMessages(ctx)

	return nil
}

// Stop closes the stream connection and halts reconnection
func (s *QuoteStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
	return s.disconnect()
}

// IsConnected reports current stream connectivity
func (s *QuoteStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Watch subscribes to live updates for a ticker. Safe to call while
// disconnected; the subscription is replayed on reconnect.
func (s *QuoteStream) Watch(tickers ...string) {
	s.subMu.Lock()
	added := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if _, ok := s.tickers[t]; !ok {
			s.tickers[t] = struct{}{}
			added = append(added, t)
		}
	}
	s.subMu.Unlock()

	if len(added) == 0 {
		return
	}

	s.mu.RLock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	if err := s.sendSubscribe(ctx, conn, added); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send subscription, will resend on reconnect")
	}
}

func (s *QuoteStream) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), streamDialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial quote stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	s.connected = true

	s.subMu.Lock()
	tickers := make([]string, 0, len(s.tickers))
	for t := range s.tickers {
		tickers = append(tickers, t)
	}
	s.subMu.Unlock()

	if len(tickers) > 0 {
		if err := s.sendSubscribe(connCtx, conn, tickers); err != nil {
			connCancel()
			conn.Close(websocket.StatusNormalClosure, "subscribe failed")
			s.conn = nil
			s.connCtx = nil
			s.cancelFunc = nil
			s.connected = false
			return fmt.Errorf("failed to subscribe to quotes: %w", err)
		}
	}

	s.log.Info().Int("tickers", len(tickers)).Msg("Quote stream connected")
	return nil
}

func (s *QuoteStream) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	s.connected = false

	if err != nil {
		return fmt.Errorf("error closing quote stream: %w", err)
	}
	return nil
}

func (s *QuoteStream) sendSubscribe(ctx context.Context, conn *websocket.Conn, tickers []string) error {
	msg := []interface{}{"subscribe", tickers}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, streamWriteWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *QuoteStream) readMessages(ctx context.Context) {
	defer func() {
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.log.Info().Int("status", int(closeStatus)).Msg("Quote stream closed normally")
			} else if ctx.Err() == nil {
				s.log.Error().Err(err).Msg("Quote stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := s.handleMessage(message); err != nil {
			s.log.Error().Err(err).Msg("Failed to handle quote stream message")
		}
	}
}

// handleMessage parses a stream frame of the form ["quote", {...}]
func (s *QuoteStream) handleMessage(message []byte) error {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil {
		return fmt.Errorf("failed to parse stream frame: %w", err)
	}
	if len(frame) < 2 {
		return fmt.Errorf("stream frame too short: %d elements", len(frame))
	}

	var channel string
	if err := json.Unmarshal(frame[0], &channel); err != nil {
		return fmt.Errorf("failed to parse frame channel: %w", err)
	}
	if channel != "quote" {
		return nil
	}

	var update struct {
		Ticker string          `json:"ticker"`
		Info   json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(frame[1], &update); err != nil {
		return fmt.Errorf("failed to parse quote update: %w", err)
	}
	if update.Ticker == "" {
		return fmt.Errorf("quote update without ticker")
	}

	quote := domain.Quote{
		Ticker:    update.Ticker,
		Info:      update.Info,
		UpdatedAt: domain.NowMillis(),
	}
	if err := s.sink.Put(quote); err != nil {
		return fmt.Errorf("failed to cache streamed quote: %w", err)
	}

	s.log.Debug().Str("ticker", update.Ticker).Msg("Streamed quote cached")
	return nil
}

func (s *QuoteStream) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		attempt++
		delay := backoffDelay(attempt)
		s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting quote stream")

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Quote stream reconnection failed")
			continue
		}

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readMessages(ctx)
		return
	}
}

// backoffDelay is exponential from baseReconnectDelay, capped at
// maxReconnectDelay
func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
