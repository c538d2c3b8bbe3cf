package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/alarmpipe/alarmpipe/internal/alerting"
	"github.com/alarmpipe/alarmpipe/internal/logger"
)

const (
	streamClientBuffer = 64
	streamWriteWait    = 10 * time.Second
	streamPongWait     = 60 * time.Second
	streamPingPeriod   = (streamPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type streamClient struct {
	send chan []byte
}

// AlarmStream fans alarm events out to websocket subscribers. A subscriber
// that cannot keep up loses events rather than stalling the broadcast.
type AlarmStream struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
	log     logger.Logger
}

func NewAlarmStream(log logger.Logger) *AlarmStream {
	return &AlarmStream{
		clients: make(map[*streamClient]struct{}),
		log:     log,
	}
}

// Subscribers returns the number of connected clients.
func (s *AlarmStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast encodes ev once and queues it on every client.
func (s *AlarmStream) Broadcast(ev *alerting.AlarmEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("failed to encode alarm event for stream", logger.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.log.Warn("stream subscriber too slow, dropping event",
				logger.String("alarm_id", ev.ID))
		}
	}
}

// Close disconnects every subscriber. Later upgrades are refused.
func (s *AlarmStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
}

func (s *AlarmStream) register() (*streamClient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	c := &streamClient{send: make(chan []byte, streamClientBuffer)}
	s.clients[c] = struct{}{}
	return c, true
}

func (s *AlarmStream) unregister(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Serve upgrades the request and streams events until either side closes.
func (s *AlarmStream) Serve(ctx echo.Context) error {
	client, ok := s.register()
	if !ok {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Server is shutting down"})
	}

	ws, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		s.unregister(client)
		s.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}

	s.log.Debug("stream subscriber connected", logger.String("remote", ctx.RealIP()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readPump(ws)
	}()

	s.writePump(ws, client, done)
	s.unregister(client)
	_ = ws.Close()
	<-done
	s.log.Debug("stream subscriber disconnected", logger.String("remote", ctx.RealIP()))
	return nil
}

// readPump discards client frames and returns when the peer goes away.
func (s *AlarmStream) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *AlarmStream) writePump(ws *websocket.Conn, client *streamClient, done <-chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-client.send:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
