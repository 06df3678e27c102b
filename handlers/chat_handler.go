package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"osschat/config"
	"osschat/internal/chat"
	"osschat/internal/provider"
	"osschat/internal/store"
)

// ChatHandler drives turn execution over HTTP and over a websocket for
// live-updating transcripts.
type ChatHandler struct {
	cfg      *config.Config
	store    *store.Store
	executor *chat.Executor
	logger   *zap.SugaredLogger
}

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewChatHandler(cfg *config.Config, st *store.Store, executor *chat.Executor, logger *zap.SugaredLogger) *ChatHandler {
	return &ChatHandler{cfg: cfg, store: st, executor: executor, logger: logger}
}

func (h *ChatHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/chat/send", h.handleSend)
	router.GET("/ws/chat", h.handleChatWebsocket)
}

type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// handleSend runs one synchronous, non-streaming turn.
func (h *ChatHandler) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload", "detail": err.Error()})
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	if !h.cfg.HasCredential() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not configured", "detail": "set HF_TOKEN in the environment"})
		return
	}

	convID, err := h.targetConversation(c.Request.Context(), req.ConversationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	result, err := h.executor.Send(c.Request.Context(), convID, message, nil)
	if err != nil {
		h.respondSendError(c, err)
		return
	}

	conv, _ := h.store.Get(convID)
	resp := gin.H{
		"answer":       result.Answer,
		"conversation": conv,
	}
	if result.PersistErr != nil {
		resp["persist_error"] = result.PersistErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) respondSendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, provider.ErrNoModel):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no reachable model", "detail": err.Error()})
	case errors.Is(err, chat.ErrGenerationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation failed", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat request failed", "detail": err.Error()})
	}
}

// targetConversation resolves which conversation a message goes to: the
// explicit one, else the active one, else a freshly created one.
func (h *ChatHandler) targetConversation(ctx context.Context, explicit string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		if _, err := h.store.Get(id); err != nil {
			return "", err
		}
		return id, nil
	}

	if id := h.store.ActiveID(); id != "" {
		return id, nil
	}

	conv, err := h.store.Create(ctx, "")
	if err != nil {
		h.logger.Warnf("chat: create conversation persist failed: %v", err)
	}
	return conv.ID, nil
}

type wsClientMessage struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type wsServerMessage struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// handleChatWebsocket serves streamed turns. The client sends one JSON
// message per turn; the server pushes "partial" frames carrying the full
// text so far, then a single "done" frame once the transcript is committed.
func (h *ChatHandler) handleChatWebsocket(c *gin.Context) {
	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("chat websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req wsClientMessage
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debugf("chat websocket closed: %v", err)
			}
			return
		}

		h.serveTurn(c.Request.Context(), conn, req)
	}
}

func (h *ChatHandler) serveTurn(ctx context.Context, conn *websocket.Conn, req wsClientMessage) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		h.writeWS(conn, wsServerMessage{Type: "error", Error: "message is required"})
		return
	}

	if !h.cfg.HasCredential() {
		h.writeWS(conn, wsServerMessage{Type: "error", Error: "not configured: set HF_TOKEN in the environment"})
		return
	}

	convID, err := h.targetConversation(ctx, req.ConversationID)
	if err != nil {
		h.writeWS(conn, wsServerMessage{Type: "error", Error: "conversation not found"})
		return
	}

	onPartial := func(sofar string) {
		h.writeWS(conn, wsServerMessage{Type: "partial", Content: sofar, ConversationID: convID})
	}

	result, err := h.executor.Send(ctx, convID, message, onPartial)
	if err != nil {
		h.writeWS(conn, wsServerMessage{Type: "error", Error: err.Error(), ConversationID: convID})
		return
	}

	h.writeWS(conn, wsServerMessage{Type: "done", Content: result.Answer, ConversationID: convID})
}

func (h *ChatHandler) writeWS(conn *websocket.Conn, msg wsServerMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debugf("chat websocket write failed: %v", err)
	}
}
