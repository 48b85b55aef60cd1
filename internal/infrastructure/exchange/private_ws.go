package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/trade_alert_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	wsAuthWindow  = 10 * time.Second
	wsPingEvery   = 20 * time.Second
	wsReadTimeout = 60 * time.Second
)

// PrivateStream is one authenticated websocket connection to the V5 private
// endpoint, subscribed to the order and wallet topics of a single account.
type PrivateStream struct {
	account string
	creds   domain.Credentials
	wsURL   string
	handler domain.StreamHandler
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}
	closed bool
}

func NewPrivateStream(account string, creds domain.Credentials, wsURL string, handler domain.StreamHandler, logger *zap.Logger) *PrivateStream {
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	return &PrivateStream{
		account: account,
		creds:   creds,
		wsURL:   wsURL,
		handler: handler,
		logger:  logger,
	}
}

// NewStreamFactory returns a factory binding every account stream to one
// websocket URL and logger.
func NewStreamFactory(wsURL string, logger *zap.Logger) domain.StreamFactory {
	return func(account string, creds domain.Credentials, handler domain.StreamHandler) domain.PrivateStream {
		return NewPrivateStream(account, creds, wsURL, handler, logger)
	}
}

// Connect dials, authenticates and subscribes, then hands the socket to the
// read and keepalive loops. It returns once the subscription is sent; stream
// failures after that surface through HandleDisconnect.
func (s *PrivateStream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}

	if err := s.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"order", "wallet"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.done = make(chan struct{})
	s.closed = false
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.keepAlive(conn)
	return nil
}

// authenticate signs "GET/realtime" + expiry with the API secret, the V5
// private stream handshake.
func (s *PrivateStream) authenticate(conn *websocket.Conn) error {
	expires := time.Now().Add(wsAuthWindow).UnixMilli()
	payload := fmt.Sprintf("GET/realtime%d", expires)
	h := hmac.New(sha256.New, []byte(s.creds.APISecret))
	h.Write([]byte(payload))
	signature := hex.EncodeToString(h.Sum(nil))

	auth := map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{s.creds.APIKey, expires, signature},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

func (s *PrivateStream) readLoop(conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			done := s.done
			s.mu.Unlock()
			if done != nil {
				close(done)
			}
			conn.Close()
			if !closed {
				s.handler.HandleDisconnect(s.account, err)
			}
			return
		}

		var event map[string]interface{}
		if err := json.Unmarshal(message, &event); err != nil {
			s.logger.Warn("Undecodable stream message",
				zap.String("account", s.account),
				zap.Error(err))
			continue
		}

		// Control frames (auth ack, subscribe ack, pong) carry "op", data
		// frames carry "topic".
		if op, ok := event["op"].(string); ok {
			if success, ok := event["success"].(bool); ok && !success {
				s.logger.Error("Stream operation rejected",
					zap.String("account", s.account),
					zap.String("op", op),
					zap.Any("response", event))
			}
			continue
		}

		topic, _ := event["topic"].(string)
		data, _ := event["data"].([]interface{})
		for _, item := range data {
			payload, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			switch topic {
			case "order":
				s.handler.HandleOrderEvent(s.account, payload)
			case "wallet":
				s.handler.HandleWalletEvent(s.account, payload)
			}
		}
	}
}

func (s *PrivateStream) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				s.logger.Warn("Stream ping failed", zap.String("account", s.account), zap.Error(err))
				return
			}
		}
	}
}

// Close tears the connection down without notifying the handler; it is the
// deliberate shutdown path.
func (s *PrivateStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
