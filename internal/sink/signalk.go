package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/groutine"
	"github.com/srg/heaterbridge/internal/telemetry"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 10 * time.Second

	signalKContext    = "vessels.self"
	signalKSourceType = "BLE"
	signalKTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Delta is a Signal K delta message.
type Delta struct {
	Context string        `json:"context"`
	Updates []DeltaUpdate `json:"updates"`
}

type DeltaUpdate struct {
	Source    DeltaSource           `json:"source"`
	Timestamp string                `json:"timestamp"`
	Values    []telemetry.PathValue `json:"values"`
}

type DeltaSource struct {
	Label string `json:"label"`
	Type  string `json:"type"`
}

// NewDelta wraps an update in a single-update delta for the own vessel.
func NewDelta(update telemetry.Update) Delta {
	values := update.Values
	if values == nil {
		values = []telemetry.PathValue{}
	}
	return Delta{
		Context: signalKContext,
		Updates: []DeltaUpdate{{
			Source:    DeltaSource{Label: update.Source, Type: signalKSourceType},
			Timestamp: update.Timestamp.UTC().Format(signalKTimeFormat),
			Values:    values,
		}},
	}
}

// SignalKConfig addresses a Signal K server stream endpoint.
type SignalKConfig struct {
	URL   string
	Token string
}

// SignalK sends deltas over a websocket. The connection is dialled on the
// first Publish and redialled after any failure.
type SignalK struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *logrus.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

func NewSignalK(cfg SignalKConfig, logger *logrus.Logger) *SignalK {
	if logger == nil {
		logger = logrus.New()
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	return &SignalK{
		url:    cfg.URL,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		logger: logger,
	}
}

func (s *SignalK) Publish(ctx context.Context, update telemetry.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(NewDelta(update)); err != nil {
		s.drop()
		return fmt.Errorf("signalk: write delta: %w", err)
	}
	return nil
}

// connect returns the live connection or dials a new one. Callers hold mu.
func (s *SignalK) connect(ctx context.Context) (*websocket.Conn, error) {
	if s.conn != nil {
		select {
		case <-s.done:
			s.logger.Debug("Signal K connection closed by server, redialling")
			s.drop()
		default:
			return s.conn, nil
		}
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signalk: dial %s: %w (status %d)", s.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("signalk: dial %s: %w", s.url, err)
	}

	done := make(chan struct{})
	s.conn, s.done = conn, done
	groutine.Go(context.Background(), "signalk-reader", func(context.Context) {
		s.startReader(conn, done)
	})
	s.logger.WithField("url", s.url).Info("Connected to Signal K server")
	return conn, nil
}

// startReader drains incoming messages so control frames are handled and a
// closed connection is noticed.
func (s *SignalK) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				s.logger.WithField("error", err).Debug("Signal K reader stopped")
			}
			return
		}
	}
}

// drop closes the connection and waits for its reader. Callers hold mu.
func (s *SignalK) drop() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close()
	<-s.done
	s.conn, s.done = nil, nil
}

func (s *SignalK) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.drop()
	return nil
}
