package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/observability"
)

// WSConfig configures WebSocket feed behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages; pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing control frames.
	WriteTimeout time.Duration
	// Subscribe, when set, is sent as a text message after every (re)connect.
	Subscribe json.RawMessage
	// Header is sent with the handshake request.
	Header http.Header
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSSource consumes a live feed that pushes either one event object or an
// array of event objects per message. Dropped connections are re-dialed
// with exponential backoff until ctx is cancelled.
type WSSource struct {
	endpoint string
	config   WSConfig
	dialer   *websocket.Dialer
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewWSSource creates a feed source. A nil config uses DefaultWSConfig.
func NewWSSource(endpoint string, config *WSConfig, logger *zap.Logger, metrics *observability.Metrics) *WSSource {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSSource{
		endpoint: endpoint,
		config:   cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger.Named("ws").With(zap.String("endpoint", endpoint)),
		metrics:  metrics,
	}
}

// Name implements Source.
func (s *WSSource) Name() string { return s.endpoint }

// Stream implements Source. The first dial is synchronous so a bad endpoint
// is reported to the caller.
func (s *WSSource) Stream(ctx context.Context) (<-chan domain.RawEvent, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.RawEvent, 1000)
	go func() {
		defer close(out)

		delay := s.config.ReconnectDelay
		for {
			if conn != nil {
				received := s.readLoop(ctx, conn, out)
				conn.Close()
				conn = nil
				if received {
					delay = s.config.ReconnectDelay
				}
			}
			if ctx.Err() != nil {
				return
			}

			s.logger.Warn("feed disconnected, reconnecting", zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			conn, err = s.connect(ctx)
			if err != nil {
				if s.metrics != nil {
					s.metrics.IngestionErrors.WithLabelValues(s.endpoint).Inc()
				}
				s.logger.Warn("reconnect failed", zap.Error(err))
				delay *= 2
				if delay > s.config.MaxReconnectDelay {
					delay = s.config.MaxReconnectDelay
				}
			}
		}
	}()

	return out, nil
}

// connect dials the feed and sends the subscribe message.
func (s *WSSource) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, s.config.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if len(s.config.Subscribe) > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, s.config.Subscribe); err != nil {
			conn.Close()
			return nil, fmt.Errorf("write subscribe: %w", err)
		}
	}
	s.logger.Info("feed connected")
	return conn, nil
}

// readLoop forwards events until the connection fails or ctx is cancelled.
// Reports whether at least one message was read.
func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- domain.RawEvent) bool {
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(ctx, conn, stop)

	received := false
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("read failed", zap.Error(err))
			}
			return received
		}
		received = true
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		events, err := decodeMessage(message)
		if err != nil {
			if s.metrics != nil {
				s.metrics.EventsRejected.WithLabelValues(string(domain.KindValidation)).Inc()
			}
			s.logger.Warn("skipping malformed message", zap.Error(err))
			continue
		}
		for _, ev := range events {
			if s.metrics != nil {
				s.metrics.EventsIngested.WithLabelValues(s.endpoint).Inc()
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return received
			}
		}
	}
}

// pingLoop keeps the connection alive and closes it when ctx is cancelled
// so a blocked ReadMessage returns.
func (s *WSSource) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.config.WriteTimeout))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
			}
		}
	}
}

// decodeMessage accepts a single event object or an array of them.
func decodeMessage(message []byte) ([]domain.RawEvent, error) {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if trimmed[0] == '[' {
		var events []domain.RawEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
		return events, nil
	}
	var ev domain.RawEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return []domain.RawEvent{ev}, nil
}
