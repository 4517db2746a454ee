package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/BluceCao2018/funbenchmark.com/internal/storage"
	"github.com/BluceCao2018/funbenchmark.com/pkg/clock"
	"github.com/BluceCao2018/funbenchmark.com/pkg/logging"
	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

// MaxMediaBytes caps uploaded message media.
const MaxMediaBytes = 25 << 20 // 25 MiB

// MessagesHandler serves the timed-message endpoints: authoring, viewing,
// and per-viewer attempt accounting.
type MessagesHandler struct {
	store   MessagesGateway
	clk     clock.Clock
	logger  logging.Logger
	metrics *BenchmarkMetrics
}

func NewMessagesHandler(store MessagesGateway, clk clock.Clock, logger logging.Logger, metrics *BenchmarkMetrics) *MessagesHandler {
	return &MessagesHandler{
		store:   store,
		clk:     clk,
		logger:  logger,
		metrics: metrics,
	}
}

// Create handles POST /api/messages. Multipart form: title, messageType,
// visibleDuration (ms), maxAttempts, creatorId, and either content (TEXT) or
// a media file (IMAGE/VIDEO). Media is uploaded before the document write so
// a storage failure never leaves a message pointing at nothing.
func (h *MessagesHandler) Create(c *gin.Context) {
	title := c.PostForm("title")
	messageType := c.PostForm("messageType")
	content := c.PostForm("content")
	creatorID := c.PostForm("creatorId")

	visibleDuration, err := strconv.ParseInt(c.PostForm("visibleDuration"), 10, 64)
	if err != nil || visibleDuration <= 0 {
		h.metrics.IncMessage("create", "bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "visibleDuration must be a positive integer",
		})
		return
	}
	maxAttempts, err := strconv.Atoi(c.PostForm("maxAttempts"))
	if err != nil || maxAttempts <= 0 {
		h.metrics.IncMessage("create", "bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "maxAttempts must be a positive integer",
		})
		return
	}

	if title == "" {
		h.metrics.IncMessage("create", "bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "title is required",
		})
		return
	}
	if creatorID == "" {
		creatorID = "anonymous"
	}

	switch messageType {
	case models.MessageTypeText:
		if content == "" {
			h.metrics.IncMessage("create", "bad_request")
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "content is required for TEXT messages",
			})
			return
		}
	case models.MessageTypeImage, models.MessageTypeVideo:
		// media file validated below
	default:
		h.metrics.IncMessage("create", "bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "messageType must be TEXT, IMAGE or VIDEO",
		})
		return
	}

	ctx := c.Request.Context()
	msg := models.TimedMessage{
		ID:                uuid.NewString(),
		Title:             title,
		MessageType:       messageType,
		VisibleDurationMs: visibleDuration,
		MaxAttempts:       maxAttempts,
		CreatorID:         creatorID,
		CreatedAt:         h.clk.Now().UTC().Format(time.RFC3339),
	}

	if messageType == models.MessageTypeText {
		msg.Content = content
	} else {
		fileHeader, err := c.FormFile("media")
		if err != nil {
			h.metrics.IncMessage("create", "bad_request")
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "media file is required for IMAGE and VIDEO messages",
			})
			return
		}
		if fileHeader.Size > MaxMediaBytes {
			h.metrics.IncMessage("create", "bad_request")
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "media file too large",
			})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			h.metrics.IncMessage("create", "bad_request")
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "media file unreadable",
			})
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			h.metrics.IncMessage("create", "bad_request")
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "media file unreadable",
			})
			return
		}

		contentType := fileHeader.Header.Get("Content-Type")
		url, err := h.store.StoreMedia(ctx, data, contentType, creatorID, fileHeader.Filename)
		if errors.Is(err, storage.ErrInvalidMediaName) {
			h.metrics.IncMessage("create", "bad_request")
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid creator id or filename",
			})
			return
		}
		if err != nil {
			h.metrics.IncMessage("create", "storage_error")
			h.logger.WithFields(logging.Fields{
				"error":    err.Error(),
				"filename": fileHeader.Filename,
			}).Error("Failed to store media")
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to store media",
			})
			return
		}
		msg.MediaURL = url
	}

	store, err := h.store.ReadMessages(ctx)
	if err != nil {
		h.metrics.IncMessage("create", "storage_error")
		h.logger.WithFields(logging.Fields{"error": err.Error()}).Error("Failed to read message store")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to read messages",
		})
		return
	}
	store.Messages = append(store.Messages, msg)
	if err := h.store.WriteMessages(ctx, store); err != nil {
		h.metrics.IncMessage("create", "storage_error")
		h.logger.WithFields(logging.Fields{"error": err.Error()}).Error("Failed to write message store")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to store message",
		})
		return
	}

	h.metrics.IncMessage("create", "success")
	h.logger.WithFields(logging.Fields{
		"message_id":   msg.ID,
		"message_type": msg.MessageType,
	}).Info("Timed message created")

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": msg,
	})
}

type viewerResponse struct {
	AttemptsUsed       int   `json:"attempts"`
	LastReactionTimeMs int64 `json:"reactionTime"`
	Exhausted          bool  `json:"exhausted"`
}

// Get handles GET /api/messages?id=&viewerId=. Returns the message along
// with the requesting viewer's own attempt state; other viewers' state is
// never exposed. A viewer never seen before reads as zero attempts.
func (h *MessagesHandler) Get(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		h.metrics.IncMessage("get", "bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "id is required",
		})
		return
	}
	viewerID := c.Query("viewerId")
	if viewerID == "" {
		viewerID = "anonymous"
	}

	store, err := h.store.ReadMessages(c.Request.Context())
	if err != nil {
		h.metrics.IncMessage("get", "storage_error")
		h.logger.WithFields(logging.Fields{"error": err.Error()}).Error("Failed to read message store")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to read messages",
		})
		return
	}

	msg := store.Find(id)
	if msg == nil {
		h.metrics.IncMessage("get", "not_found")
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Message not found",
		})
		return
	}

	state := msg.ViewerStateFor(viewerID)
	public := *msg
	public.PerUserState = nil

	h.metrics.IncMessage("get", "success")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": public,
		"viewer": viewerResponse{
			AttemptsUsed:       state.AttemptsUsed,
			LastReactionTimeMs: state.LastReactionTimeMs,
			Exhausted:          msg.Exhausted(viewerID),
		},
	})
}

// RecordAttempt handles PATCH /api/messages?id=&time=&viewerId=. One call
// records exactly one consumed attempt with the given latency. An exhausted
// viewer is refused before anything is mutated; false starts are never
// reported here, so they never consume.
func (h *MessagesHandler) RecordAttempt(c *gin.Context) {
	id := c.Query("id")
	viewerID := c.Query("viewerId")
	if id == "" || viewerID == "" {
		h.metrics.IncMessage("attempt", "bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "id and viewerId are required",
		})
		return
	}
	reactionTime, err := strconv.ParseInt(c.Query("time"), 10, 64)
	if err != nil || reactionTime < 0 {
		h.metrics.IncMessage("attempt", "bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "time must be a non-negative integer",
		})
		return
	}

	ctx := c.Request.Context()
	store, err := h.store.ReadMessages(ctx)
	if err != nil {
		h.metrics.IncMessage("attempt", "storage_error")
		h.logger.WithFields(logging.Fields{"error": err.Error()}).Error("Failed to read message store")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to read messages",
		})
		return
	}

	msg := store.Find(id)
	if msg == nil {
		h.metrics.IncMessage("attempt", "not_found")
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Message not found",
		})
		return
	}

	if msg.Exhausted(viewerID) {
		h.metrics.IncMessage("attempt", "exhausted")
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "Attempts exhausted",
			"viewer": viewerResponse{
				AttemptsUsed: msg.ViewerStateFor(viewerID).AttemptsUsed,
				Exhausted:    true,
			},
		})
		return
	}

	if msg.PerUserState == nil {
		msg.PerUserState = make(map[string]models.ViewerState)
	}
	state := msg.PerUserState[viewerID]
	state.AttemptsUsed++
	state.LastReactionTimeMs = reactionTime
	msg.PerUserState[viewerID] = state

	if err := h.store.WriteMessages(ctx, store); err != nil {
		h.metrics.IncMessage("attempt", "storage_error")
		h.logger.WithFields(logging.Fields{
			"error":      err.Error(),
			"message_id": id,
		}).Error("Failed to write message store")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to record attempt",
		})
		return
	}

	h.metrics.IncMessage("attempt", "success")
	h.logger.WithFields(logging.Fields{
		"message_id":    id,
		"attempts_used": state.AttemptsUsed,
		"latency_ms":    reactionTime,
	}).Info("Reveal attempt recorded")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"viewer": viewerResponse{
			AttemptsUsed:       state.AttemptsUsed,
			LastReactionTimeMs: state.LastReactionTimeMs,
			Exhausted:          msg.Exhausted(viewerID),
		},
	})
}
