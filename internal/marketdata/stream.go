package marketdata

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/exchange"
	"scalp-trading-bot/internal/logging"
)

const (
	defaultStreamURL   = "wss://stream.binance.com:9443"
	reconnectDelay     = 3 * time.Second
	maxReconnectDelay  = 30 * time.Second
	streamReadDeadline = 90 * time.Second
)

// Stream subscribes to the combined miniTicker websocket feed for the
// configured symbols and pushes every tick into the market data service.
// The connection reconnects with backoff until Stop is called.
type Stream struct {
	mu        sync.Mutex
	service   *Service
	symbols   []string
	baseURL   string
	conn      *websocket.Conn
	isRunning bool
	stopChan  chan struct{}
	logger    zerolog.Logger
}

// NewStream creates a stream for the given symbols. An empty baseURL uses
// the production endpoint.
func NewStream(service *Service, symbols []string, baseURL string) *Stream {
	if baseURL == "" {
		baseURL = defaultStreamURL
	}
	return &Stream{
		service:  service,
		symbols:  symbols,
		baseURL:  baseURL,
		stopChan: make(chan struct{}),
		logger:   logging.Component("stream"),
	}
}

// Start connects in the background. Safe to call once.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.isRunning || len(s.symbols) == 0 {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.connectLoop()
}

// Stop closes the connection and halts reconnection.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Stream) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *Stream) streamURL() string {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@miniTicker"
	}
	return s.baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

func (s *Stream) connectLoop() {
	url := s.streamURL()
	delay := reconnectDelay

	for s.running() {
		s.logger.Info().Int("symbols", len(s.symbols)).Msg("connecting to ticker stream")

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("stream connection failed")
			select {
			case <-s.stopChan:
				return
			case <-time.After(delay):
			}
			if delay < maxReconnectDelay {
				delay *= 2
			}
			continue
		}
		delay = reconnectDelay

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.logger.Info().Msg("ticker stream connected")
		s.readLoop(conn)

		if !s.running() {
			return
		}
		s.logger.Warn().Dur("retry_in", reconnectDelay).Msg("ticker stream lost, reconnecting")
		select {
		case <-s.stopChan:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && s.running() {
				s.logger.Warn().Err(err).Msg("stream read error")
			}
			return
		}
		s.handleMessage(message)
	}
}

// combinedEvent is one frame of the combined-stream envelope.
type combinedEvent struct {
	Stream string          `json:"stream"`
	Data   miniTickerEvent `json:"data"`
}

type miniTickerEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	ClosePrice  string `json:"c"`
	OpenPrice   string `json:"o"`
	HighPrice   string `json:"h"`
	LowPrice    string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
}

func (s *Stream) handleMessage(message []byte) {
	var event combinedEvent
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse stream message")
		return
	}
	if event.Data.EventType != "24hrMiniTicker" || event.Data.Symbol == "" {
		return
	}

	last, err := decimal.NewFromString(event.Data.ClosePrice)
	if err != nil {
		s.logger.Warn().Str("symbol", event.Data.Symbol).Str("price", event.Data.ClosePrice).Msg("unparseable stream price")
		return
	}

	ticker := &exchange.Ticker{
		Symbol:         event.Data.Symbol,
		LastPrice:      last,
		BestBid:        last,
		BestAsk:        last,
		Volume24h:      parseDecimal(event.Data.Volume),
		QuoteVolume24h: parseDecimal(event.Data.QuoteVolume),
		At:             time.UnixMilli(event.Data.EventTime).UTC(),
	}
	s.service.UpdateTicker(context.Background(), ticker)
}

func parseDecimal(raw string) decimal.Decimal {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return v
}
