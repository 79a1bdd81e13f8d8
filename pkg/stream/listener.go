// Package stream keeps the dashboard's websocket connection to the detection
// backend.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	dashboarderrors "github.com/lucid-vigil/nids-watch/pkg/errors"
	"github.com/lucid-vigil/nids-watch/pkg/metrics"
	"github.com/lucid-vigil/nids-watch/pkg/monitors/base"
	"github.com/lucid-vigil/nids-watch/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Name is the listener's monitor name.
const Name = "stream_listener"

const (
	readLimit    = 1 << 20
	closeTimeout = time.Second
)

// MessageHandler receives every valid stream message in arrival order.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg telemetry.StreamMessage)
}

// StatusSink records whether the stream is connected.
type StatusSink interface {
	SetStreamConnected(connected bool)
}

// Listener holds one websocket connection to the backend stream. Run
// returns when the connection ends; the scheduler reconnects.
type Listener struct {
	*base.BaseMonitor
	url        string
	dialer     *websocket.Dialer
	handler    MessageHandler
	status     StatusSink
	errHandler *dashboarderrors.ErrorHandler
	now        func() time.Time

	accepted  atomic.Uint64
	discarded atomic.Uint64
}

// NewListener creates a listener for url. errHandler may be nil.
func NewListener(url string, handler MessageHandler, status StatusSink, logger zerolog.Logger, errHandler *dashboarderrors.ErrorHandler) *Listener {
	l := &Listener{
		BaseMonitor: base.NewBaseMonitor(Name, logger),
		url:         url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   16 * 1024,
			WriteBufferSize:  4 * 1024,
		},
		handler:    handler,
		status:     status,
		errHandler: errHandler,
		now:        time.Now,
	}
	if l.errHandler == nil {
		l.errHandler = dashboarderrors.NewErrorHandler(*l.Logger(), nil)
	}
	return l
}

// Run connects and consumes the stream until the connection drops or ctx is
// cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.MarkRunning()
	err := l.run(ctx)
	if errors.Is(err, context.Canceled) {
		l.MarkStopped(nil)
	} else {
		l.MarkStopped(err)
	}
	return err
}

func (l *Listener) run(ctx context.Context) error {
	logger := l.Logger()

	conn, resp, err := l.dialer.DialContext(ctx, l.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.errHandler.HandleError(ctx, dashboarderrors.NewStreamError(Name, l.url, err))
		return fmt.Errorf("dial %s: %w", l.url, err)
	}
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	l.setConnected(true)
	defer l.setConnected(false)
	logger.Info().Str("url", l.url).Msg("Telemetry stream connected")

	// Closing the socket unblocks ReadMessage when ctx ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeTimeout))
			conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("Telemetry stream closed")
				return ctx.Err()
			}
			l.errHandler.HandleError(ctx, dashboarderrors.NewStreamError(Name, l.url, err))
			return fmt.Errorf("read stream: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		l.handleFrame(ctx, data)
	}
}

func (l *Listener) handleFrame(ctx context.Context, data []byte) {
	msg, err := telemetry.Decode(data, l.now())
	if err != nil {
		result := "malformed"
		if errors.Is(err, telemetry.ErrInvalidMessage) {
			result = "invalid"
		}
		metrics.StreamMessagesTotal.WithLabelValues(result).Inc()
		l.UpdateMetrics("discarded", l.discarded.Add(1))
		l.errHandler.HandleError(ctx, dashboarderrors.NewDecodeError(Name, data, err))
		return
	}

	metrics.StreamMessagesTotal.WithLabelValues("accepted").Inc()
	l.UpdateMetrics("accepted", l.accepted.Add(1))
	l.handler.HandleMessage(ctx, msg)
}

func (l *Listener) setConnected(connected bool) {
	if connected {
		metrics.StreamConnected.Set(1)
	} else {
		metrics.StreamConnected.Set(0)
	}
	l.UpdateMetrics("connected", connected)
	if l.status != nil {
		l.status.SetStreamConnected(connected)
	}
}
