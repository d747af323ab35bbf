package quotes

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"

	"github.com/ashare/papertrade/internal/domain"
)

const (
	writeWait          = 10 * time.Second
	dialTimeout        = 30 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute

	// Ticks older than this fall back to the polling client.
	streamStaleThreshold = time.Minute
)

// subscribeMessage is the frame sent after connecting to select symbols.
type subscribeMessage struct {
	Op     string   `msgpack:"op"`
	Stocks []string `msgpack:"stocks"`
}

// Streamer consumes msgpack-encoded tick frames over a websocket and
// keeps a local tick table hot. GetTicks serves from the table when the
// entry is fresh and falls back to the wrapped polling provider
// otherwise, so a dropped feed degrades to polling instead of failing
// order matching.
type Streamer struct {
	url      string
	fallback domain.QuoteProvider
	table    *MemoryProvider
	log      zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	stocks   map[string]bool
	stopChan chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

var _ domain.QuoteProvider = (*Streamer)(nil)

// NewStreamer creates a streamer for url. fallback serves cache misses
// and stale entries; it is required.
func NewStreamer(url string, fallback domain.QuoteProvider, log zerolog.Logger) *Streamer {
	return &Streamer{
		url:      url,
		fallback: fallback,
		table:    NewMemoryProvider(),
		log:      log.With().Str("client", "quote_stream").Logger(),
		stocks:   make(map[string]bool),
		stopChan: make(chan struct{}),
	}
}

// Subscribe adds stock codes to the stream subscription. Already-known
// codes are ignored; the subscription is replayed after reconnects.
func (s *Streamer) Subscribe(stockCodes ...string) {
	s.mu.Lock()
	var fresh []string
	for _, code := range stockCodes {
		if !s.stocks[code] {
			s.stocks[code] = true
			fresh = append(fresh, code)
		}
	}
	conn := s.conn
	s.mu.Unlock()

	if len(fresh) == 0 || conn == nil {
		return
	}
	if err := s.send(conn, &subscribeMessage{Op: "subscribe", Stocks: fresh}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to extend stream subscription")
	}
}

// GetTicks serves the freshest known tick for stockCode.
func (s *Streamer) GetTicks(ctx context.Context, stockCode string) (*domain.Quotes, error) {
	s.Subscribe(stockCode)

	q, err := s.table.GetTicks(ctx, stockCode)
	if err == nil && time.Since(q.Timestamp) < streamStaleThreshold {
		return q, nil
	}
	return s.fallback.GetTicks(ctx, stockCode)
}

// Start launches the connect/read loop.
func (s *Streamer) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop closes the connection and waits for the read loop to exit.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopChan)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	s.wg.Wait()
	s.log.Info().Msg("Quote stream stopped")
}

func (s *Streamer) run() {
	defer s.wg.Done()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if err := s.connectAndRead(); err != nil {
			s.log.Warn().Err(err).Msg("Quote stream disconnected")
		}

		select {
		case <-s.stopChan:
			return
		case <-time.After(reconnectDelay(attempt)):
			attempt++
		}
	}
}

// reconnectDelay backs off exponentially from base to max.
func reconnectDelay(attempt int) time.Duration {
	d := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(attempt)))
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

func (s *Streamer) connectAndRead() error {
	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	s.mu.Lock()
	s.conn = conn
	stocks := make([]string, 0, len(s.stocks))
	for code := range s.stocks {
		stocks = append(stocks, code)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	if len(stocks) > 0 {
		if err := s.send(conn, &subscribeMessage{Op: "subscribe", Stocks: stocks}); err != nil {
			return fmt.Errorf("subscribe failed: %w", err)
		}
	}
	s.log.Info().Int("stocks", len(stocks)).Msg("Quote stream connected")

	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		if typ != websocket.MessageBinary {
			continue
		}

		var q domain.Quotes
		if err := msgpack.Unmarshal(data, &q); err != nil {
			s.log.Warn().Err(err).Msg("Dropping malformed tick frame")
			continue
		}
		if q.Timestamp.IsZero() {
			q.Timestamp = time.Now()
		}
		s.table.SetTicks(&q)
	}
}

func (s *Streamer) send(conn *websocket.Conn, msg *subscribeMessage) error {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return conn.Write(ctx, websocket.MessageBinary, data)
}
