package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/studiumlab/atelier/internal/domain"
	"github.com/studiumlab/atelier/internal/infra"
)

// Event is one typed message off the backend's push channel. Exactly one of
// the payload fields is set, matching Type.
type Event struct {
	Type      EventType
	Progress  ProgressEvent
	Executing ExecutingEvent
	Executed  ExecutedEvent
}

// EventType discriminates push-channel messages.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventExecuting EventType = "executing"
	EventExecuted  EventType = "executed"
)

// ProgressEvent reports step-level sampling progress.
type ProgressEvent struct {
	Value int `json:"value"`
	Max   int `json:"max"`
}

// ExecutingEvent reports that a named node has started executing.
type ExecutingEvent struct {
	Node string `json:"node"`
}

// ExecutedEvent carries the declared output artifacts of a finished job.
type ExecutedEvent struct {
	Output struct {
		Images []domain.ArtifactDescriptor `json:"images"`
	} `json:"output"`
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ChannelOptions configures the event channel.
type ChannelOptions struct {
	// URL is the websocket endpoint, without the clientId query parameter.
	URL string
	// ReconnectDelay is the fixed wait before re-dialing a dropped
	// connection. Zero means 5 seconds.
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         *infra.Logger
}

// Channel receives typed events from the backend over a single websocket
// connection keyed by client id. On an unexpected close it reconnects after a
// fixed delay with the same client id so the backend keeps routing the
// session's events; messages lost while disconnected are not replayed.
type Channel struct {
	url            string
	clientID       string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	logger         *infra.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the channel and starts the receive loop.
func Dial(ctx context.Context, clientID string, opts ChannelOptions) (*Channel, error) {
	if opts.URL == "" {
		return nil, errors.New("comfy: websocket url is required")
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	ch := &Channel{
		url:            opts.URL,
		clientID:       clientID,
		reconnectDelay: delay,
		dialer:         dialer,
		logger:         logger,
		events:         make(chan Event, 64),
		done:           make(chan struct{}),
	}

	conn, err := ch.dial(ctx)
	if err != nil {
		return nil, err
	}
	go ch.run(ctx, conn)
	return ch, nil
}

// Events returns the stream of decoded events. It is closed when the channel
// shuts down.
func (ch *Channel) Events() <-chan Event {
	return ch.events
}

// Close tears the channel down. Safe to call more than once.
func (ch *Channel) Close() {
	ch.closeOnce.Do(func() { close(ch.done) })
}

func (ch *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	target := ch.url
	if u, err := url.Parse(ch.url); err == nil {
		q := u.Query()
		q.Set("clientId", ch.clientID)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	conn, _, err := ch.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	ch.logger.Debug().Str("url", ch.url).Msg("comfy: websocket connected")
	return conn, nil
}

func (ch *Channel) run(ctx context.Context, conn *websocket.Conn) {
	defer close(ch.events)
	for {
		ch.readLoop(ctx, conn)
		conn.Close()

		select {
		case <-ch.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(ch.reconnectDelay):
		}

		ch.logger.Info().Msg("comfy: websocket reconnecting")
		next, err := ch.dial(ctx)
		if err != nil {
			ch.logger.Warn().Err(err).Msg("comfy: websocket reconnect failed")
			// Keep the same cadence; events lost meanwhile are gone.
			continue
		}
		conn = next
	}
}

// readLoop drains one connection until it drops or the channel is closed.
func (ch *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ch.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
			case <-ctx.Done():
			default:
				ch.logger.Warn().Err(err).Msg("comfy: websocket dropped")
			}
			return
		}

		event, ok := decodeEvent(raw, ch.logger)
		if !ok {
			continue
		}
		select {
		case ch.events <- event:
		case <-ch.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func decodeEvent(raw []byte, logger *infra.Logger) (Event, bool) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn().Err(err).Msg("comfy: undecodable websocket message")
		return Event{}, false
	}
	switch EventType(msg.Type) {
	case EventProgress:
		var data ProgressEvent
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Warn().Err(err).Msg("comfy: bad progress payload")
			return Event{}, false
		}
		return Event{Type: EventProgress, Progress: data}, true
	case EventExecuting:
		var data ExecutingEvent
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Warn().Err(err).Msg("comfy: bad executing payload")
			return Event{}, false
		}
		return Event{Type: EventExecuting, Executing: data}, true
	case EventExecuted:
		var data ExecutedEvent
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Warn().Err(err).Msg("comfy: bad executed payload")
			return Event{}, false
		}
		return Event{Type: EventExecuted, Executed: data}, true
	default:
		logger.Debug().Str("type", msg.Type).Msg("comfy: ignoring unknown event type")
		return Event{}, false
	}
}
