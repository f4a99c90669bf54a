package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huykn/pos-sync/types"
)

// ErrNoURL is returned when a websocket channel has no URL.
var ErrNoURL = errors.New("websocket url is required")

// SubscribeEvent is the frame name sent after every connect to register the
// event names of interest.
const SubscribeEvent = "subscribe"

// SubscribeData is the data of a subscribe frame.
type SubscribeData struct {
	Events []string `json:"events"`
}

// WebSocketOptions configures a WebSocketChannel.
type WebSocketOptions struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Header is sent with the upgrade request, e.g. cookies or auth.
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// ReconnectTimeout is the minimum time between two connection attempts.
	ReconnectTimeout time.Duration

	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration

	// PingInterval is how often a ping is sent on an idle connection.
	PingInterval time.Duration

	// ReadTimeout closes the connection when neither a frame nor a pong
	// arrives in time.
	ReadTimeout time.Duration

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger types.Logger
}

// DefaultWebSocketOptions returns default websocket options.
func DefaultWebSocketOptions() WebSocketOptions {
	return WebSocketOptions{
		ReconnectTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      75 * time.Second,
	}
}

// WebSocketChannel receives realtime events as JSON text frames shaped
// {"event": name, "data": payload}. It redials until closed and re-sends
// the subscribe frame on every connection.
type WebSocketChannel struct {
	opts     WebSocketOptions
	events   hooks[types.RealtimeEvent]
	connects hooks[struct{}]
	drops    hooks[struct{}]
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	names    []string
	started  bool
	closed   bool
	wg       sync.WaitGroup
}

// NewWebSocketChannel creates a websocket channel. It does not dial until
// Subscribe is called.
func NewWebSocketChannel(opts WebSocketOptions) (*WebSocketChannel, error) {
	if opts.URL == "" {
		return nil, ErrNoURL
	}
	def := DefaultWebSocketOptions()
	if opts.ReconnectTimeout <= 0 {
		opts.ReconnectTimeout = def.ReconnectTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = types.NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketChannel{opts: opts, ctx: ctx, cancel: cancel}, nil
}

// Subscribe starts the connection loop. The loop runs until Close; ctx only
// guards the call itself.
func (wc *WebSocketChannel) Subscribe(ctx context.Context, names []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.closed {
		return ErrClosed
	}
	if wc.started {
		return ErrAlreadySubscribed
	}
	wc.started = true
	wc.names = append([]string(nil), names...)

	wc.wg.Add(1)
	go wc.run()
	return nil
}

// OnEvent registers a callback for received events.
func (wc *WebSocketChannel) OnEvent(fn func(types.RealtimeEvent)) func() {
	return wc.events.add(fn)
}

// OnConnect registers a callback for every established connection.
func (wc *WebSocketChannel) OnConnect(fn func()) func() {
	return wc.connects.add(func(struct{}) { fn() })
}

// OnDisconnect registers a callback for every lost connection.
func (wc *WebSocketChannel) OnDisconnect(fn func()) func() {
	return wc.drops.add(func(struct{}) { fn() })
}

// Close stops the connection loop and waits for it to exit.
func (wc *WebSocketChannel) Close() error {
	wc.mu.Lock()
	if wc.closed {
		wc.mu.Unlock()
		return nil
	}
	wc.closed = true
	wc.mu.Unlock()

	wc.cancel()
	wc.wg.Wait()
	wc.events.clear()
	wc.connects.clear()
	wc.drops.clear()
	return nil
}

func (wc *WebSocketChannel) run() {
	defer wc.wg.Done()

	for {
		attempt := time.Now()
		ws, err := wc.connect()
		if err != nil {
			wc.opts.Logger.Debug("websocket: connect failed", "url", wc.opts.URL, "error", err)
		} else {
			wc.serve(ws)
			if wc.ctx.Err() == nil {
				wc.drops.emit(struct{}{})
			}
		}

		wait := wc.opts.ReconnectTimeout - time.Since(attempt)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-wc.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (wc *WebSocketChannel) connect() (*websocket.Conn, error) {
	ws, _, err := wc.opts.Dialer.DialContext(wc.ctx, wc.opts.URL, wc.opts.Header)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(SubscribeData{Events: wc.names})
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetWriteDeadline(time.Now().Add(wc.opts.WriteTimeout))
	if err := ws.WriteJSON(types.RealtimeEvent{Name: SubscribeEvent, Payload: data}); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// serve delivers frames from ws until it fails or the channel is closed.
func (wc *WebSocketChannel) serve(ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(wc.ctx)
	defer handleCancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ws.Close()
		for {
			select {
			case <-handleCtx.Done():
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wc.opts.WriteTimeout))
				return
			case <-time.After(wc.opts.PingInterval):
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wc.opts.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	ws.SetReadDeadline(time.Now().Add(wc.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wc.opts.ReadTimeout))
	})

	wc.opts.Logger.Info("websocket: connected", "url", wc.opts.URL)
	wc.connects.emit(struct{}{})

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if handleCtx.Err() == nil {
				wc.opts.Logger.Warn("websocket: read failed", "error", err)
			}
			handleCancel()
			return
		}
		ws.SetReadDeadline(time.Now().Add(wc.opts.ReadTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		var event types.RealtimeEvent
		if err := json.Unmarshal(message, &event); err != nil || event.Name == "" {
			wc.opts.Logger.Warn("websocket: malformed frame", "size", len(message))
			continue
		}
		wc.events.emit(event)
	}
}
