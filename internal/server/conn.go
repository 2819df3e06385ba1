package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/cortexpuppet/internal/mapper"
	"github.com/normanking/cortexpuppet/internal/metrics"
	"github.com/normanking/cortexpuppet/internal/session"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var errSendBufferFull = errors.New("server: client send buffer full")

// conn is one websocket client. It owns at most one session at a time and
// doubles as that session's sink, forwarding results to the client.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	remote string
	log    zerolog.Logger
	send   chan ServerMessage

	mu      sync.Mutex
	sess    *session.Session
	runDone chan struct{}
}

func newConn(srv *Server, ws *websocket.Conn, remote string) *conn {
	return &conn{
		srv:    srv,
		ws:     ws,
		remote: remote,
		log:    srv.log.With().Str("remote", remote).Logger(),
		send:   make(chan ServerMessage, sendBuffer),
	}
}

// Name implements session.Sink.
func (c *conn) Name() string { return "client" }

// Deliver implements session.Sink.
func (c *conn) Deliver(ctx context.Context, d session.Delivery) error {
	msg := ServerMessage{
		Type:        MsgResult,
		SessionID:   d.SessionID,
		CharacterID: d.CharacterID,
		TemplateID:  d.TemplateID,
		Seq:         d.Seq,
		Result:      d.Result,
	}
	if d.Result == nil {
		msg.Type = MsgNoFace
	}
	if !c.enqueue(msg) {
		return errSendBufferFull
	}
	return nil
}

func (c *conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.log.Info().Msg("tracking client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readLoop(ctx)

	c.stopSession()
	close(c.send)
	<-writerDone
	_ = c.ws.Close()

	c.log.Info().Msg("tracking client disconnected")
}

func (c *conn) readLoop(ctx context.Context) {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.MessagesReceived.WithLabelValues("invalid").Inc()
			c.replyError("invalid message: " + err.Error())
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *conn) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case MsgStart, MsgFrame, MsgConfig, MsgReset, MsgStop:
		metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()
	default:
		metrics.MessagesReceived.WithLabelValues("unknown").Inc()
		c.replyError("unknown message type: " + msg.Type)
		return
	}

	if msg.Type == MsgStart {
		c.handleStart(ctx, msg)
		return
	}

	sess := c.current()
	if sess == nil {
		c.replyError("no active session")
		return
	}

	switch msg.Type {
	case MsgFrame:
		if msg.Frame == nil {
			c.replyError("frame message without frame")
			return
		}
		if _, err := sess.Submit(msg.Frame); err != nil {
			c.replyError(err.Error())
		}

	case MsgConfig:
		if msg.Config == nil {
			c.replyError("config message without config")
			return
		}
		if err := sess.SetConfig(*msg.Config); err != nil {
			c.replyError(err.Error())
			return
		}
		cfg := sess.Config()
		c.enqueue(ServerMessage{Type: MsgConfig, SessionID: sess.ID(), Config: &cfg})

	case MsgReset:
		if err := sess.Reset(); err != nil {
			c.replyError(err.Error())
			return
		}
		c.enqueue(ServerMessage{Type: MsgReset, SessionID: sess.ID()})

	case MsgStop:
		id, dropped := sess.ID(), sess.Dropped()
		c.stopSession()
		c.enqueue(ServerMessage{Type: MsgStopped, SessionID: id, Dropped: dropped})
	}
}

func (c *conn) handleStart(ctx context.Context, msg ClientMessage) {
	lib := c.srv.opts.Library
	if lib == nil {
		c.replyError("no character library loaded")
		return
	}
	charID := msg.CharacterID
	if charID == "" {
		charID = c.srv.opts.DefaultCharacter
	}
	if charID == "" {
		c.replyError("characterId is required")
		return
	}
	char, tmpl, err := lib.Resolve(charID, msg.TemplateID)
	if err != nil {
		c.replyError(err.Error())
		return
	}

	// A second start switches character on the running session.
	if sess := c.current(); sess != nil {
		if err := sess.Configure(char, tmpl); err != nil {
			c.replyError(err.Error())
			return
		}
		if msg.Config != nil {
			if err := sess.SetConfig(*msg.Config); err != nil {
				c.replyError(err.Error())
				return
			}
		}
		c.replyStarted(sess)
		return
	}

	mapping := c.srv.currentMapping()
	cfg := mapping.Config
	if msg.Config != nil {
		cfg = cfg.Merge(*msg.Config)
	}

	sinks := append([]session.Sink{c}, c.srv.opts.Sinks...)
	sess := session.New(char, tmpl, session.Options{
		Mapping:  cfg,
		Filter:   mapping.Filter,
		Synonyms: mapper.SynonymTable(mapping.Synonyms),
		Sinks:    sinks,
		Bus:      c.srv.opts.Bus,
		Logger:   c.log,
	})

	done := make(chan struct{})
	c.mu.Lock()
	c.sess = sess
	c.runDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()

	c.replyStarted(sess)
}

func (c *conn) replyStarted(sess *session.Session) {
	cfg := sess.Config()
	msg := ServerMessage{
		Type:      MsgStarted,
		SessionID: sess.ID(),
		Config:    &cfg,
	}
	if ch := sess.Character(); ch != nil {
		msg.CharacterID = ch.ID
	}
	if t := sess.Template(); t != nil {
		msg.TemplateID = t.ID
	}
	c.enqueue(msg)
}

func (c *conn) replyError(text string) {
	c.enqueue(ServerMessage{Type: MsgError, Error: text})
}

// enqueue hands msg to the writer without blocking. It reports false when
// the client is not keeping up and the message was dropped.
func (c *conn) enqueue(msg ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn().Str("type", msg.Type).Msg("client send buffer full, message dropped")
		return false
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *conn) current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *conn) active() bool {
	return c.current() != nil
}

func (c *conn) applyPatch(p mapper.ConfigPatch) {
	if sess := c.current(); sess != nil {
		if err := sess.SetConfig(p); err != nil && !errors.Is(err, session.ErrClosed) {
			c.log.Warn().Err(err).Msg("apply mapping config")
		}
	}
}

// stopSession closes the active session and waits for its worker, so no
// delivery reaches the client after it returns.
func (c *conn) stopSession() {
	c.mu.Lock()
	sess, done := c.sess, c.runDone
	c.sess, c.runDone = nil, nil
	c.mu.Unlock()

	if sess == nil {
		return
	}
	_ = sess.Close()
	<-done
}

// shutdown asks the client to go away and unblocks the read loop.
func (c *conn) shutdown() {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
	_ = c.ws.Close()
}
