package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	apperrors "peerlink/pkg/errors"
	"peerlink/pkg/tracing"
	"peerlink/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Message types accepted from and written to signaling clients.
const (
	TypeCreate      = "create"
	TypeCreated     = "created"
	TypeOffer       = "offer"
	TypeAnswer      = "answer"
	TypeCandidate   = "candidate"
	TypeClose       = "close"
	TypeDataChannel = "data_channel"
	TypeData        = "data"
	TypeState       = "state"
	TypeRemote      = "remote_stream"
	TypeError       = "error"
)

var (
	errNotOwned       = errors.New("connection is not owned by this client")
	errMissingID      = errors.New("connection_id is required")
	errUnknownMessage = errors.New("unknown message type")
)

// forwarded lists the events written back to the socket that created a
// connection.
var forwarded = []domain.EventType{
	domain.EventLocalDescription,
	domain.EventCandidateGenerated,
	domain.EventConnectionStateChanged,
	domain.EventDataChannelMessage,
	domain.EventDataChannelState,
	domain.EventRemoteStreamAvailable,
}

type Options struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration

	RateLimitEnabled  bool
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

// WebSocketServer bridges signaling clients to the connection manager. Each
// socket owns the connections it creates; closing the socket closes them.
type WebSocketServer struct {
	connections ports.ConnectionService
	bus         ports.EventBus
	opts        Options
	upgrader    websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	logger *zap.SugaredLogger
}

type SignalMessage struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connection_id,omitempty"`
	Role         domain.Role         `json:"role,omitempty"`
	Payload      json.RawMessage     `json:"payload,omitempty"`
}

type DataChannelPayload struct {
	Label string `json:"label"`
}

type DataPayload struct {
	Label    string `json:"label"`
	Data     string `json:"data"`
	IsString bool   `json:"is_string,omitempty"`
}

type ErrorPayload struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter

	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu    sync.Mutex
	owned map[domain.ConnectionID]func()
}

func NewWebSocketServer(connections ports.ConnectionService, bus ports.EventBus, opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= opts.PingInterval {
		opts.PongTimeout = 2 * opts.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	s := &WebSocketServer{
		connections: connections,
		bus:         bus,
		opts:        opts,
		clients:     make(map[string]*client),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Warnw("rejected websocket origin", "origin", origin)
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: s.opts.WriteTimeout,
		owned:        make(map[domain.ConnectionID]func()),
	}
	if s.opts.RateLimitEnabled {
		c.limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	}
	if s.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSize)
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.release(c)
	}()

	s.logger.Infow("signaling client connected", "client_id", c.id, "remote_addr", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	go s.pingLoop(ctx, c)

	for {
		var msg SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading signaling message", "client_id", c.id, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if c.limiter != nil && !c.limiter.Allow() {
			s.sendError(c, msg.ConnectionID, apperrors.NewRateLimitError())
			continue
		}

		if err := s.handleMessage(ctx, c, msg); err != nil {
			s.logger.Infow("error handling signaling message",
				"client_id", c.id,
				"type", msg.Type,
				"connection_id", msg.ConnectionID,
				"error", err,
			)
			s.sendError(c, msg.ConnectionID, err)
		}
	}
}

func (s *WebSocketServer) pingLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				s.logger.Debugw("error sending ping", "client_id", c.id, "error", err)
				return
			}
		}
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, c *client, msg SignalMessage) error {
	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, string(msg.ConnectionID))
	defer span.End()

	if msg.Type == "" {
		return apperrors.NewInvalidInputError("message type is required")
	}
	if msg.ConnectionID == "" {
		return apperrors.WrapError(errMissingID, apperrors.ErrCodeInvalidInput, errMissingID.Error(), http.StatusBadRequest)
	}
	if msg.Type != TypeCreate && !c.owns(msg.ConnectionID) {
		return apperrors.WrapError(errNotOwned, apperrors.ErrCodeNotFound, errNotOwned.Error(), http.StatusNotFound)
	}

	var err error
	switch msg.Type {
	case TypeCreate:
		err = s.handleCreate(ctx, c, msg)
	case TypeOffer:
		err = s.handleOffer(ctx, msg)
	case TypeAnswer:
		var answer domain.SessionDescription
		if err = decodeDescription(msg.Payload, &answer); err == nil {
			answer.Type = domain.SDPTypeAnswer
			err = s.connections.HandleAnswer(ctx, msg.ConnectionID, answer)
		}
	case TypeCandidate:
		var candidate domain.ICECandidate
		if err = decode(msg.Payload, &candidate); err == nil {
			s.connections.AddICECandidate(msg.ConnectionID, candidate)
		}
	case TypeClose:
		s.connections.Close(msg.ConnectionID)
		c.disown(msg.ConnectionID)
	case TypeDataChannel:
		var payload DataChannelPayload
		if err = decode(msg.Payload, &payload); err == nil {
			if err = invalid(validation.ValidateDataChannelLabel(payload.Label)); err == nil {
				err = s.connections.CreateDataChannel(ctx, msg.ConnectionID, payload.Label)
			}
		}
	case TypeData:
		var payload DataPayload
		if err = decode(msg.Payload, &payload); err == nil {
			if err = invalid(validation.ValidateDataChannelLabel(payload.Label)); err == nil {
				err = s.connections.SendData(msg.ConnectionID, payload.Label, []byte(payload.Data))
			}
		}
	default:
		err = apperrors.WrapError(errUnknownMessage, apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown message type: %s", msg.Type), http.StatusBadRequest)
	}

	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

// handleCreate subscribes before creating so nothing the connection emits
// during setup is missed.
func (s *WebSocketServer) handleCreate(ctx context.Context, c *client, msg SignalMessage) error {
	if err := invalid(validation.ValidateConnectionID(string(msg.ConnectionID))); err != nil {
		return err
	}
	if c.owns(msg.ConnectionID) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateConnection, msg.ConnectionID)
	}

	unsubscribe := s.bus.Subscribe(
		fmt.Sprintf("ws-%s-%s", c.id, msg.ConnectionID),
		ports.EventFilter{Types: forwarded, ConnectionID: msg.ConnectionID},
		func(event domain.Event) { s.forward(c, event) },
	)

	pc, err := s.connections.CreateConnection(ctx, msg.ConnectionID, msg.Role)
	if err != nil {
		unsubscribe()
		return err
	}
	c.own(msg.ConnectionID, unsubscribe)

	return s.send(c, TypeCreated, msg.ConnectionID, pc)
}

// handleOffer creates a local offer when the payload is empty and answers a
// remote offer otherwise. Either description reaches the client through the
// event subscription.
func (s *WebSocketServer) handleOffer(ctx context.Context, msg SignalMessage) error {
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		_, err := s.connections.CreateOffer(ctx, msg.ConnectionID)
		return err
	}

	var offer domain.SessionDescription
	if err := decodeDescription(msg.Payload, &offer); err != nil {
		return err
	}
	offer.Type = domain.SDPTypeOffer
	_, err := s.connections.HandleOffer(ctx, msg.ConnectionID, offer)
	return err
}

func (s *WebSocketServer) forward(c *client, event domain.Event) {
	var msgType string
	var payload interface{}

	switch event.Type {
	case domain.EventLocalDescription:
		msgType, payload = string(event.Description.Type), event.Description
	case domain.EventCandidateGenerated:
		msgType, payload = TypeCandidate, event.Candidate
	case domain.EventConnectionStateChanged:
		msgType, payload = TypeState, event.State
	case domain.EventDataChannelMessage:
		msgType, payload = TypeData, DataPayload{
			Label:    event.DataChannel.Label,
			Data:     string(event.DataChannel.Data),
			IsString: event.DataChannel.IsString,
		}
	case domain.EventDataChannelState:
		msgType, payload = TypeDataChannel, event.DataChannel
	case domain.EventRemoteStreamAvailable:
		msgType, payload = TypeRemote, event.Stream
	default:
		return
	}

	if err := s.send(c, msgType, event.ConnectionID, payload); err != nil {
		s.logger.Debugw("error forwarding event",
			"client_id", c.id,
			"connection_id", event.ConnectionID,
			"event", event.Type,
			"error", err,
		)
	}
}

func (s *WebSocketServer) send(c *client, msgType string, id domain.ConnectionID, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(SignalMessage{Type: msgType, ConnectionID: id, Payload: raw})
}

func (s *WebSocketServer) sendError(c *client, id domain.ConnectionID, err error) {
	appErr := apperrors.FromDomainError(err)
	if sendErr := s.send(c, TypeError, id, ErrorPayload{Code: appErr.Code, Message: err.Error()}); sendErr != nil {
		s.logger.Debugw("error sending error message", "client_id", c.id, "error", sendErr)
	}
}

// release closes every connection the client still owns.
func (s *WebSocketServer) release(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	c.mu.Lock()
	owned := c.owned
	c.owned = make(map[domain.ConnectionID]func())
	c.mu.Unlock()

	for id, unsubscribe := range owned {
		unsubscribe()
		s.connections.Close(id)
	}
	s.logger.Infow("signaling client disconnected", "client_id", c.id, "closed_connections", len(owned))
}

// ClientCount reports the number of connected signaling clients.
func (s *WebSocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown sends a close frame to every client. Their handlers then release
// the connections they own.
func (s *WebSocketServer) Shutdown() {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
	}
}

func (c *client) write(msg SignalMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *client) owns(id domain.ConnectionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owned[id]
	return ok
}

func (c *client) own(id domain.ConnectionID, unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned[id] = unsubscribe
}

func (c *client) disown(id domain.ConnectionID) {
	c.mu.Lock()
	unsubscribe, ok := c.owned[id]
	delete(c.owned, id)
	c.mu.Unlock()
	if ok {
		unsubscribe()
	}
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return apperrors.NewInvalidInputError("payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid payload", http.StatusBadRequest)
	}
	return nil
}

func decodeDescription(raw json.RawMessage, desc *domain.SessionDescription) error {
	if err := decode(raw, desc); err != nil {
		return err
	}
	return invalid(validation.ValidateSDP(desc.SDP))
}

// invalid marks a validation failure as bad input.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
}
