// Package ws serves streaming transcription over WebSocket. Clients send
// PCM16LE mono audio at the model rate as binary frames and JSON control
// frames as text; the server answers with JSON events.
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/audio"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/config"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/moduleinfo"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/stream"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/telemetry"
)

// Path is where the streaming endpoint is mounted.
const Path = "/v1/stream"

const (
	defaultPollInterval = 20 * time.Millisecond
	readTimeout         = 60 * time.Second
	writeTimeout        = 10 * time.Second
)

// Control is a client text frame.
type Control struct {
	Type string `json:"type"`
	// SessionID and ProcessingInterval (seconds) are read from "start".
	SessionID          string            `json:"session_id,omitempty"`
	ProcessingInterval float64           `json:"processing_interval,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Event is a server text frame.
type Event struct {
	Type       string            `json:"type"`
	SessionID  string            `json:"session_id,omitempty"`
	SampleRate int               `json:"sample_rate,omitempty"`
	Tokens     []string          `json:"tokens,omitempty"`
	Text       string            `json:"text,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Handler upgrades requests on Path and runs one session per connection.
type Handler struct {
	cfg      config.Config
	log      *slog.Logger
	model    *model.Context
	metrics  *telemetry.Recorder
	upgrader websocket.Upgrader
	slots    chan struct{}

	// PollInterval overrides the token polling period when positive.
	PollInterval time.Duration
}

// New returns a Handler serving sessions on mctx.
func New(cfg config.Config, logger *slog.Logger, mctx *model.Context, metrics *telemetry.Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if mctx == nil {
		panic("ws: model context must not be nil")
	}
	slots := cfg.MaxSessions
	if slots <= 0 {
		slots = config.DefaultMaxSessions
	}
	return &Handler{
		cfg:     cfg,
		log:     logger.With("component", "ws"),
		model:   mctx,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		slots: make(chan struct{}, slots),
	}
}

// Mux returns a ServeMux with the handler mounted on Path.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	return mux
}

type frame struct {
	kind int
	data []byte
	err  error
}

// conn is the per-connection state, owned by the ServeHTTP goroutine.
type conn struct {
	h    *Handler
	ws   *websocket.Conn
	log  *slog.Logger
	sess *stream.Session
	done bool
	all  []string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.slots <- struct{}{}:
	default:
		http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-h.slots }()

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "error", err)
		return
	}
	defer wsConn.Close()

	c := &conn{h: h, ws: wsConn, log: h.log.With("remote", r.RemoteAddr)}
	defer func() {
		if c.sess != nil {
			c.sess.Close()
		}
	}()

	_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	frames := make(chan frame)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			kind, data, err := wsConn.ReadMessage()
			if err == nil {
				_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))
			}
			select {
			case frames <- frame{kind: kind, data: data, err: err}:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	poll := h.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		in := frames
		if c.done {
			in = nil
		}
		select {
		case f := <-in:
			if f.err != nil {
				if !websocket.IsCloseError(f.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Warn("ws read failed", "error", f.err)
				}
				return
			}
			if err := c.handle(f); err != nil {
				c.fail(err)
				return
			}
		case <-ticker.C:
		}

		if finished, err := c.flush(); err != nil || finished {
			if err != nil {
				c.fail(err)
			}
			return
		}
	}
}

func (c *conn) handle(f frame) error {
	switch f.kind {
	case websocket.BinaryMessage:
		if c.done {
			return nil
		}
		samples, err := audio.PCM16ToFloat32(f.data)
		if err != nil {
			return err
		}
		if err := c.start(Control{Type: "start"}); err != nil {
			return err
		}
		return c.sess.Feed(samples)
	case websocket.TextMessage:
		var ctl Control
		if err := json.Unmarshal(f.data, &ctl); err != nil {
			return errors.New("ws: malformed control frame")
		}
		switch ctl.Type {
		case "start":
			return c.start(ctl)
		case "stop":
			if err := c.start(Control{Type: "start"}); err != nil {
				return err
			}
			c.done = true
			return c.sess.Finish()
		case "ping":
			return c.send(Event{Type: "pong"})
		default:
			return errors.New("ws: unknown control frame " + ctl.Type)
		}
	}
	return nil
}

// start opens the session on the first start frame or audio frame.
func (c *conn) start(ctl Control) error {
	if c.sess != nil {
		if ctl.ProcessingInterval != 0 {
			return c.sess.SetProcessingInterval(seconds(ctl.ProcessingInterval))
		}
		return nil
	}
	sess, err := stream.New(c.h.model, stream.Config{
		ID:                 ctl.SessionID,
		ProcessingInterval: c.h.cfg.ProcessingInterval,
		RingCapacity:       c.h.cfg.RingCapacity,
		Stub:               c.h.cfg.UseStubEngine,
		Logger:             c.log,
		Recorder:           c.h.metrics,
		Metadata:           ctl.Metadata,
	})
	if err != nil {
		return err
	}
	c.sess = sess
	c.log = c.log.With("session_id", sess.ID())
	if ctl.ProcessingInterval != 0 {
		if err := sess.SetProcessingInterval(seconds(ctl.ProcessingInterval)); err != nil {
			return err
		}
	}
	c.log.Info("ws session opened")
	return c.send(Event{Type: "started", SessionID: sess.ID(), SampleRate: sess.SampleRate()})
}

// flush sends newly committed tokens and reports whether the stream ended.
func (c *conn) flush() (bool, error) {
	if c.sess == nil {
		return false, nil
	}
	state := c.sess.State()
	tokens := engine.Texts(c.sess.Tokens(-1))
	if len(tokens) > 0 {
		c.all = append(c.all, tokens...)
		if err := c.send(Event{Type: "tokens", Tokens: tokens, Text: engine.JoinText(tokens)}); err != nil {
			return false, err
		}
	}
	switch state {
	case stream.StateFailed:
		if err := c.sess.LastError(); err != nil {
			return false, err
		}
		return false, errors.New("ws: session failed")
	case stream.StateDrained:
		err := c.send(Event{
			Type:      "final",
			SessionID: c.sess.ID(),
			Tokens:    c.all,
			Text:      engine.JoinText(c.all),
			Metadata:  moduleinfo.TranscriptMetadata(c.h.model.Name(), c.sess.ID()),
		})
		if err != nil {
			return false, err
		}
		c.close(websocket.CloseNormalClosure, "")
		c.log.Info("ws session finished", "tokens", len(c.all))
		return true, nil
	}
	return false, nil
}

func (c *conn) fail(err error) {
	c.log.Warn("ws session error", "error", err)
	_ = c.send(Event{Type: "error", Error: err.Error()})
	c.close(websocket.CloseInternalServerErr, "")
}

func (c *conn) send(ev Event) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(ev)
}

func (c *conn) close(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
