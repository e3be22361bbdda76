// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/middleware"
	"github.com/jason-s-yu/trivia/internal/room"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	wsSubprotocol   = "trivia"
	outboxSize      = 64
	pingInterval    = 30 * time.Second
	writeTimeout    = 5 * time.Second
	messageRate     = 5
	messageBurst    = 10
	maxMessageBytes = 16 << 10
)

// inbound is any client frame. Fields not used by a type are ignored.
type inbound struct {
	Type string `json:"type"`

	// join-room
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	Identity    string `json:"identity"`
	Password    string `json:"password"`

	// submit-answer
	QuestionIndex *int     `json:"questionIndex"`
	OptionIndex   *int     `json:"optionIndex"`
	TimeRemaining *float64 `json:"timeRemaining"`

	// chat
	Text string `json:"text"`
}

// wsClient is one websocket connection. It is the room.Sink for the member
// it seats; rooms push into out and the write pump drains it.
type wsClient struct {
	id     uuid.UUID
	out    chan room.Event
	logger *logrus.Entry
}

func (c *wsClient) Send(ev room.Event) {
	select {
	case c.out <- ev:
	default:
		c.logger.WithField("event", ev.Type).Warn("outbox full, dropping event")
	}
}

// RoomWSHandler upgrades to the trivia subprotocol and relays frames between
// the client and the room manager. When the request context ends (server
// shutdown) queued events are flushed before the connection is closed with
// ServerShutdownError.
func RoomWSHandler(logger *logrus.Logger, mgr *room.Manager, resolver auth.Resolver, origins []string) http.HandlerFunc {
	patterns := originPatterns(origins)
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{wsSubprotocol},
			OriginPatterns: patterns,
		})
		if err != nil {
			logger.WithError(err).Warn("websocket accept error")
			return
		}
		defer c.CloseNow()

		if c.Subprotocol() != wsSubprotocol {
			c.Close(BadSubprotocolError, "client must speak the trivia subprotocol")
			return
		}
		c.SetReadLimit(maxMessageBytes)

		client := &wsClient{
			id:  uuid.New(),
			out: make(chan room.Event, outboxSize),
		}
		client.logger = logger.WithFields(logrus.Fields{"conn": client.id, "remote": r.RemoteAddr})
		cookieToken := extractCookieToken(r.Header.Get("Cookie"), authCookieName)

		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		// Cancelling a read closes the connection, so reads only stop once
		// the writer is done with it.
		readCtx, stopReading := context.WithCancel(context.WithoutCancel(r.Context()))
		defer stopReading()
		writeCtx, stopWriting := context.WithCancel(r.Context())
		defer stopWriting()

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			writePump(writeCtx, c, client)
			if r.Context().Err() != nil {
				c.Close(ServerShutdownError, "server shutting down")
			}
			stopReading()
		}()

		err = readPump(readCtx, c, client, mgr, resolver, cookieToken)
		mgr.Disconnect(client.id)
		stopWriting()
		<-writerDone
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)

		c.Close(websocket.StatusNormalClosure, "")
	}
}

// readPump reads frames until the connection fails. Normal closures return nil.
func readPump(ctx context.Context, c *websocket.Conn, client *wsClient, mgr *room.Manager, resolver auth.Resolver, cookieToken string) error {
	limiter := rate.NewLimiter(messageRate, messageBurst)
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		if !limiter.Allow() {
			client.Send(room.ErrorEvent("Too many messages, slow down"))
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			client.Send(room.ErrorEvent("Invalid JSON format"))
			continue
		}
		dispatch(ctx, msg, client, mgr, resolver, cookieToken)
	}
}

func dispatch(ctx context.Context, msg inbound, client *wsClient, mgr *room.Manager, resolver auth.Resolver, cookieToken string) {
	switch msg.Type {
	case "join-room":
		token := msg.Identity
		if token == "" {
			token = cookieToken
		}
		identity, ok := resolver.Resolve(token)
		if !ok {
			identity = uuid.Nil
		}
		_, err := mgr.Join(ctx, client.id, msg.Code, room.JoinRequest{
			Identity:    identity,
			DisplayName: msg.DisplayName,
			Avatar:      msg.Avatar,
			Password:    msg.Password,
		}, client)
		if err != nil {
			client.logger.WithField("room", strings.ToUpper(msg.Code)).WithError(err).Debug("join rejected")
			client.Send(room.JoinErrorEvent(err))
		}

	case "ready":
		mgr.Ready(ctx, client.id)

	case "submit-answer":
		if msg.QuestionIndex == nil || msg.OptionIndex == nil {
			client.Send(room.ErrorEvent("Answer needs questionIndex and optionIndex"))
			return
		}
		var remaining float64
		if msg.TimeRemaining != nil {
			remaining = *msg.TimeRemaining
		}
		mgr.Answer(ctx, client.id, *msg.QuestionIndex, *msg.OptionIndex, remaining)

	case "leave-room":
		mgr.Leave(ctx, client.id)

	case "chat":
		if err := mgr.Chat(ctx, client.id, msg.Text); errors.Is(err, room.ErrNotInRoom) {
			client.Send(room.ErrorEvent(room.Reason(err)))
		}

	default:
		client.Send(room.ErrorEvent("Unknown message type"))
	}
}

// writePump drains the outbox and keeps the connection alive with pings.
// Once ctx is done whatever is still queued is written before it returns.
func writePump(ctx context.Context, c *websocket.Conn, client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushOutbox(c, client)
			return
		case ev := <-client.out:
			if err := writeEvent(c, ev); err != nil {
				client.logger.WithError(err).Debug("write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				client.logger.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}

func flushOutbox(c *websocket.Conn, client *wsClient) {
	for {
		select {
		case ev := <-client.out:
			if err := writeEvent(c, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func writeEvent(c *websocket.Conn, ev room.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, ev)
}

// originPatterns turns configured origins into host patterns for websocket.Accept.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}
