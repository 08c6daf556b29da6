package http

import (
	"fmt"
	"net/http"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/errors"
	"peerlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

type StreamHandler struct {
	media ports.MediaService
}

func NewStreamHandler(media ports.MediaService) *StreamHandler {
	return &StreamHandler{media: media}
}

func (h *StreamHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/streams", h.ListStreams)
		api.POST("/streams/:id", h.AcquireStream)
		api.DELETE("/streams/:id", h.ReleaseStream)
		api.PUT("/streams/:id/tracks/:kind", h.SetTrackEnabled)
	}
}

func (h *StreamHandler) ListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"streams": h.media.Streams(),
	})
}

// AcquireStream captures a local stream. An empty body captures camera and
// microphone.
func (h *StreamHandler) AcquireStream(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))
	if err := validation.ValidateStreamID(string(streamID)); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	var req domain.MediaConstraints
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}
	switch req.Kind {
	case "", domain.StreamKindCameraMic, domain.StreamKindScreenShare:
	default:
		c.Error(errors.NewInvalidInputError(fmt.Sprintf("unknown stream kind %q", req.Kind)).
			WithContext("kind", req.Kind))
		return
	}

	stream, err := h.media.Acquire(c.Request.Context(), streamID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stream": stream})
}

func (h *StreamHandler) ReleaseStream(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	if _, ok := h.media.Stream(streamID); !ok {
		c.Error(fmt.Errorf("%w: %s", domain.ErrStreamNotFound, streamID))
		return
	}
	h.media.Release(streamID)
	c.Status(http.StatusNoContent)
}

func (h *StreamHandler) SetTrackEnabled(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))
	kind := domain.TrackKind(c.Param("kind"))

	if kind != domain.TrackKindAudio && kind != domain.TrackKindVideo {
		c.Error(errors.NewInvalidInputError(fmt.Sprintf("unknown track kind %q", kind)))
		return
	}

	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if _, ok := h.media.Stream(streamID); !ok {
		c.Error(fmt.Errorf("%w: %s", domain.ErrStreamNotFound, streamID))
		return
	}
	h.media.SetTrackEnabled(streamID, kind, *req.Enabled)

	stream, _ := h.media.Stream(streamID)
	c.JSON(http.StatusOK, gin.H{"stream": stream})
}
