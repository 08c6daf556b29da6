package http

import (
	"encoding/json"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/donovanhide/eventsource"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const allEventsChannel = "events"

// EventsHandler streams bus events to browsers as server-sent events. Each
// event goes to the firehose channel and to a per-connection channel.
type EventsHandler struct {
	server      *eventsource.Server
	unsubscribe func()
	logger      *zap.SugaredLogger
}

type sseEvent struct {
	id    string
	event string
	data  string
}

func (e sseEvent) Id() string    { return e.id }
func (e sseEvent) Event() string { return e.event }
func (e sseEvent) Data() string  { return e.data }

func NewEventsHandler(bus ports.EventBus, logger *zap.SugaredLogger) *EventsHandler {
	h := &EventsHandler{
		server: eventsource.NewServer(),
		logger: logger,
	}
	h.server.AllowCORS = true
	h.unsubscribe = bus.Subscribe("sse", ports.EventFilter{}, h.publish)
	return h
}

func (h *EventsHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/events", h.Stream)
}

// Stream serves the firehose, or a single connection's events when the
// connection_id query parameter is set.
func (h *EventsHandler) Stream(c *gin.Context) {
	channel := allEventsChannel
	if id := c.Query("connection_id"); id != "" {
		channel = connectionChannel(domain.ConnectionID(id))
	}
	h.server.Handler(channel)(c.Writer, c.Request)
}

func (h *EventsHandler) publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warnw("failed to encode event for SSE", "type", event.Type, "error", err)
		return
	}

	channels := []string{allEventsChannel}
	if event.ConnectionID != "" {
		channels = append(channels, connectionChannel(event.ConnectionID))
	}
	h.server.Publish(channels, sseEvent{
		id:    event.ID,
		event: string(event.Type),
		data:  string(data),
	})
}

// Close stops relaying bus events and disconnects every SSE client.
func (h *EventsHandler) Close() {
	h.unsubscribe()
	h.server.Close()
}

func connectionChannel(id domain.ConnectionID) string {
	return "connection:" + string(id)
}
