package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"osschat/internal/store"
)

// ConversationHandler exposes the conversation management commands. These
// endpoints stay usable even when the generation path is unconfigured.
type ConversationHandler struct {
	store  *store.Store
	logger *zap.SugaredLogger
}

func NewConversationHandler(st *store.Store, logger *zap.SugaredLogger) *ConversationHandler {
	return &ConversationHandler{store: st, logger: logger}
}

func (h *ConversationHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/conversations")
	group.GET("", h.handleList)
	group.POST("", h.handleCreate)
	group.GET("/:id", h.handleGet)
	group.POST("/:id/select", h.handleSelect)
	group.POST("/:id/rename", h.handleRename)
	group.POST("/:id/clear", h.handleClear)
	group.DELETE("/:id", h.handleDelete)

	router.POST("/api/settings/reasoning", h.handleReasoning)
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

type reasoningRequest struct {
	Level string `json:"level"`
}

type conversationSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Messages int    `json:"messages"`
}

// stateResponse is the refreshed store state every mutation responds with.
func (h *ConversationHandler) stateResponse(persistErr error) gin.H {
	conversations := h.store.List()
	summaries := make([]conversationSummary, 0, len(conversations))
	for _, c := range conversations {
		summaries = append(summaries, conversationSummary{ID: c.ID, Title: c.Title, Messages: len(c.Turns)})
	}

	resp := gin.H{
		"conversations": summaries,
		"active":        h.store.ActiveID(),
		"reasoning":     h.store.ReasoningLevel(),
	}
	if persistErr != nil {
		resp["persist_error"] = persistErr.Error()
	}
	return resp
}

func (h *ConversationHandler) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, h.stateResponse(nil))
}

func (h *ConversationHandler) handleCreate(c *gin.Context) {
	var req createConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload", "detail": err.Error()})
			return
		}
	}

	conv, persistErr := h.store.Create(c.Request.Context(), req.Title)
	if persistErr != nil {
		h.logger.Warnf("create conversation: persist failed: %v", persistErr)
	}

	resp := h.stateResponse(persistErr)
	resp["conversation"] = conv
	c.JSON(http.StatusCreated, resp)
}

func (h *ConversationHandler) handleGet(c *gin.Context) {
	conv, err := h.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) handleSelect(c *gin.Context) {
	err := h.store.SetActive(c.Request.Context(), c.Param("id"))
	h.respondMutation(c, err, "select conversation")
}

func (h *ConversationHandler) handleRename(c *gin.Context) {
	var req renameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload", "detail": err.Error()})
		return
	}

	// a blank title is a deliberate no-op, the old title is kept
	err := h.store.Rename(c.Request.Context(), c.Param("id"), req.Title)
	h.respondMutation(c, err, "rename conversation")
}

func (h *ConversationHandler) handleClear(c *gin.Context) {
	err := h.store.Clear(c.Request.Context(), c.Param("id"))
	h.respondMutation(c, err, "clear conversation")
}

func (h *ConversationHandler) handleDelete(c *gin.Context) {
	err := h.store.Delete(c.Request.Context(), c.Param("id"))
	h.respondMutation(c, err, "delete conversation")
}

func (h *ConversationHandler) handleReasoning(c *gin.Context) {
	var req reasoningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload", "detail": err.Error()})
		return
	}

	level, ok := store.ParseReasoningLevel(req.Level)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reasoning level must be Low, Medium or High"})
		return
	}

	err := h.store.SetReasoningLevel(c.Request.Context(), level)
	h.respondMutation(c, err, "set reasoning level")
}

// respondMutation maps a store error to a response: not-found is a 404, a
// persistence failure is reported alongside the (still applied) new state.
func (h *ConversationHandler) respondMutation(c *gin.Context, err error, action string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		h.logger.Warnf("%s: persist failed: %v", action, err)
	}
	c.JSON(http.StatusOK, h.stateResponse(err))
}
