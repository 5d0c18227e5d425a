// Package realtime bridges a browser websocket to an editor session.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sgid/api/internal/editor"
	"sgid/api/internal/generation"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	outboxSize     = 16
)

// Generator runs AI generation for one section.
type Generator interface {
	GenerateSection(ctx context.Context, actor editor.Actor, documentID, sectionID, providerName string) (generation.Outcome, error)
}

// Participant is the authenticated user on the other end of a socket.
type Participant struct {
	Actor       editor.Actor
	CanWrite    bool
	CanGenerate bool
}

type Handler struct {
	backend    editor.Backend
	subscriber editor.Subscriber
	generator  Generator
	opts       editor.Options
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewHandler builds the editor socket handler. allowOrigin decides the
// websocket Origin check; nil accepts same-origin requests only.
func NewHandler(backend editor.Backend, subscriber editor.Subscriber, generator Generator, opts editor.Options, allowOrigin func(*http.Request) bool, logger zerolog.Logger) *Handler {
	h := &Handler{
		backend:    backend,
		subscriber: subscriber,
		generator:  generator,
		opts:       opts,
		logger:     logger.With().Str("component", "realtime").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     allowOrigin,
		},
	}
	h.opts.Logger = logger
	return h
}

// Serve upgrades the request and runs the session until either side hangs up.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, participant Participant, documentID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	session, err := editor.Open(ctx, h.backend, h.subscriber, participant.Actor, documentID, h.opts)
	if err != nil {
		h.logger.Warn().Err(err).Str("document_id", documentID).Msg("open editor session")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "could not open document"),
			time.Now().Add(writeWait))
		return
	}

	c := &client{
		handler:     h,
		conn:        conn,
		session:     session,
		participant: participant,
		documentID:  documentID,
		outbox:      make(chan ServerMessage, outboxSize),
		writerDone:  make(chan struct{}),
		logger: h.logger.With().
			Str("document_id", documentID).
			Str("user_id", participant.Actor.ID).
			Logger(),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()

	c.readLoop(ctx)

	closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), writeWait)
	if err := session.Close(closeCtx); err != nil {
		c.logger.Warn().Err(err).Msg("close editor session")
	}
	cancelClose()
	cancel()
	c.wg.Wait()
	wg.Wait()
}

type client struct {
	handler     *Handler
	conn        *websocket.Conn
	session     *editor.Session
	participant Participant
	documentID  string
	outbox      chan ServerMessage
	writerDone  chan struct{}
	logger      zerolog.Logger
	wg          sync.WaitGroup
}

// readLoop returns when the socket closes or fails.
func (c *client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError(ctx, "", "", errUnknownType)
			continue
		}
		if err := c.dispatch(ctx, msg); err != nil {
			if errors.Is(err, editor.ErrClosed) || errors.Is(err, context.Canceled) {
				return
			}
			c.sendError(ctx, msg.RequestID, msg.SectionID, err)
		}
	}
}

func (c *client) dispatch(ctx context.Context, msg ClientMessage) error {
	switch msg.Type {
	case TypeFocus:
		if !c.participant.CanWrite {
			return errForbidden
		}
		return c.session.Focus(ctx, msg.SectionID)
	case TypeEdit:
		if !c.participant.CanWrite {
			return errForbidden
		}
		return c.session.Edit(ctx, msg.SectionID, msg.Content)
	case TypeBlur:
		return c.session.Blur(ctx)
	case TypeGenerate:
		if !c.participant.CanGenerate || c.handler.generator == nil {
			return errForbidden
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.generate(ctx, msg)
		}()
		return nil
	default:
		return errUnknownType
	}
}

// generate runs outside the read loop; the new content reaches the session
// through the document's change feed like any other save.
func (c *client) generate(ctx context.Context, msg ClientMessage) {
	outcome, err := c.handler.generator.GenerateSection(ctx, c.participant.Actor, c.documentID, msg.SectionID, msg.Provider)
	if err != nil {
		c.sendError(ctx, msg.RequestID, msg.SectionID, err)
		return
	}
	c.send(ctx, ServerMessage{Type: TypeGenerated, RequestID: msg.RequestID, Outcome: &outcome})
}

func (c *client) sendError(ctx context.Context, requestID, sectionID string, err error) {
	c.send(ctx, ServerMessage{
		Type:      TypeError,
		RequestID: requestID,
		Error:     &ErrorBody{Code: errorCode(err), Message: err.Error(), SectionID: sectionID},
	})
}

// send drops msg once the write loop has exited, so a dead writer never
// stalls the read loop.
func (c *client) send(ctx context.Context, msg ServerMessage) {
	select {
	case c.outbox <- msg:
	case <-c.writerDone:
	case <-ctx.Done():
	}
}

// writeLoop is the only goroutine writing to the socket. Closing the
// connection on exit unblocks the read loop.
func (c *client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer close(c.writerDone)
	defer c.conn.Close()
	snapshots := c.session.Snapshots()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			if err := c.write(ServerMessage{Type: TypeSnapshot, Snapshot: &snap}); err != nil {
				return
			}
		case msg := <-c.outbox:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *client) write(msg ServerMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("websocket write failed")
		return err
	}
	return nil
}
