package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"companion-backend/internal/model"
	"companion-backend/internal/service"
	"companion-backend/internal/utils"
	"companion-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// StreamChat runs one turn over SSE. Every "message" frame carries the
// full running content for its message id; clients overwrite, never append.
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sseWriter := utils.NewSSEWriter(c.Writer)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 25*time.Minute)
	defer cancel()

	// Heartbeats keep idle proxies from dropping the connection.
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	go func() {
		for {
			select {
			case <-heartbeat.C:
				if err := sseWriter.WriteJSON("heartbeat", gin.H{
					"type":      "heartbeat",
					"timestamp": time.Now().Unix(),
				}); err != nil {
					logger.Warnf("Heartbeat write failed: %v", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	respChan, errChan := h.chatService.StreamChat(&req)

	// The turn goroutine outlives a disconnected client; drain remaining
	// frames on every exit path so it can finish and release the session.
	defer func() {
		for range respChan {
		}
	}()

	for {
		select {
		case resp, ok := <-respChan:
			if !ok {
				sseWriter.Close()
				return
			}

			data, err := json.Marshal(resp)
			if err != nil {
				logger.Errorf("Failed to marshal response: %v", err)
				continue
			}
			if err := sseWriter.Write("message", string(data)); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}

		case err := <-errChan:
			if err != nil {
				sseWriter.WriteJSON("error", gin.H{
					"error":     err.Error(),
					"timestamp": time.Now().Unix(),
				})
				sseWriter.Close()
				return
			}

		case <-ctx.Done():
			sseWriter.Close()
			return
		}
	}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	// An empty body is fine; the service fills in the default title.
	_ = c.ShouldBindJSON(&req)

	session, err := h.chatService.CreateSession(req.Title, req.Mode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	session, err := h.chatService.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.SessionResponse{
		SessionID:    session.ID,
		Title:        session.Title,
		Mode:         session.Mode,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
		MessageCount: len(session.Messages),
	})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	sessionID := c.Param("session_id")

	messages, err := h.chatService.GetSessionMessages(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (h *ChatHandler) GetSessionList(c *gin.Context) {
	sessions, err := h.chatService.ListSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]model.SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, model.SessionResponse{
			SessionID:    session.ID,
			Title:        session.Title,
			Mode:         session.Mode,
			CreatedAt:    session.CreatedAt,
			UpdatedAt:    session.UpdatedAt,
			MessageCount: len(session.Messages),
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *ChatHandler) SelectSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	session, err := h.chatService.SelectSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.chatService.DeleteSession(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session deleted successfully"})
}

func (h *ChatHandler) ClearAllSessions(c *gin.Context) {
	if err := h.chatService.ClearAllSessions(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "All sessions cleared successfully"})
}

func (h *ChatHandler) RenameSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req model.RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.chatService.RenameSession(sessionID, req.Title)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *ChatHandler) GetSettings(c *gin.Context) {
	settings, err := h.chatService.GetSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *ChatHandler) UpdateSettings(c *gin.Context) {
	var req model.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := h.chatService.UpdateSettings(&req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}
