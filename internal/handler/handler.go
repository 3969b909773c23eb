package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"portal/internal/attendance"
	"portal/internal/audit"
	"portal/internal/auth"
	"portal/internal/portalclient"
	"portal/internal/views"
)

// CommitLister reads the commit audit log.
type CommitLister interface {
	List(ctx context.Context, f audit.ListFilter) ([]audit.Entry, error)
}

type Handler struct {
	views   *views.Registry
	commits CommitLister // nil if the database is not configured
}

func New(reg *views.Registry, commits CommitLister) *Handler {
	return &Handler{views: reg, commits: commits}
}

// Register mounts the view API on rg. saveLimit guards the save endpoint.
func (h *Handler) Register(rg *gin.RouterGroup, saveLimit gin.HandlerFunc) {
	rg.POST("/views", h.OpenView)
	rg.GET("/views/:id", h.GetView)
	rg.DELETE("/views/:id", h.CloseView)
	rg.POST("/views/:id/load", h.LoadView)
	rg.POST("/views/:id/edit", h.BeginEdit)
	rg.PUT("/views/:id/edits/:key", h.SetEdit)
	rg.DELETE("/views/:id/edits", h.CancelEdits)
	if saveLimit != nil {
		rg.POST("/views/:id/save", saveLimit, h.Save)
	} else {
		rg.POST("/views/:id/save", h.Save)
	}
	rg.GET("/commits", h.ListCommits)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "views": h.views.Len()})
}

// ---------- Views ----------

// OpenView creates a view for the caller and loads its first page.
// The body is optional; an empty body loads the unfiltered list.
func (h *Handler) OpenView(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := req.toQuery()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := h.views.Open(owner)
	state, err := v.Editor.Load(c.Request.Context(), q)
	if err != nil {
		_ = h.views.Close(v.ID, owner)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newViewDTO(v.ID, state))
}

// GetView returns the cached page with pending edits overlaid. It never
// calls the portal.
func (h *Handler) GetView(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newViewDTO(v.ID, v.Editor.View()))
}

func (h *Handler) CloseView(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	if err := h.views.Close(c.Param("id"), owner); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LoadView changes filters or page. Changing any filter resets to page 1.
func (h *Handler) LoadView(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := req.toQuery()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := v.Editor.Load(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newViewDTO(v.ID, state))
}

// ---------- Editing ----------

func (h *Handler) BeginEdit(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	if err := v.Editor.BeginEdit(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newViewDTO(v.ID, v.Editor.View()))
}

type editRequest struct {
	Present *bool `json:"present" binding:"required"`
}

// SetEdit buffers the desired presence for one row. Nothing is sent to the
// portal until Save.
func (h *Handler) SetEdit(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := v.Editor.Toggle(c.Param("key"), *req.Present); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newViewDTO(v.ID, v.Editor.View()))
}

func (h *Handler) CancelEdits(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	if err := v.Editor.Cancel(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newViewDTO(v.ID, v.Editor.View()))
}

// Save commits the pending edits. On failure every edit stays buffered and
// the view remains in edit mode.
func (h *Handler) Save(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	res, err := v.Editor.Save(c.Request.Context())
	if err != nil {
		var batch *attendance.BatchError
		if errors.As(err, &batch) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":  err.Error(),
				"result": newResultDTO(res),
				"view":   newViewDTO(v.ID, v.Editor.View()),
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result": newResultDTO(res),
		"view":   newViewDTO(v.ID, v.Editor.View()),
	})
}

// ---------- Commit log ----------

func (h *Handler) ListCommits(c *gin.Context) {
	if h.commits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commit log not configured"})
		return
	}
	f := audit.ListFilter{
		SessionID: c.Query("session_id"),
		UserID:    c.Query("user_id"),
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}
	entries, err := h.commits.List(c.Request.Context(), f)
	if err != nil {
		log.Printf("list commits: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list commits"})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"commits": entries})
}

// ---------- helpers ----------

func caller(c *gin.Context) (string, bool) {
	claims, ok := auth.ClaimsFrom(c.Request.Context())
	if !ok || claims.Subject == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return claims.Subject, true
}

func (h *Handler) view(c *gin.Context) (*views.View, bool) {
	owner, ok := caller(c)
	if !ok {
		return nil, false
	}
	v, err := h.views.Get(c.Param("id"), owner)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return v, true
}

func writeError(c *gin.Context, err error) {
	var apiErr *portalclient.APIError
	switch {
	case errors.Is(err, attendance.ErrForbidden), errors.Is(err, views.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, views.ErrNotFound), errors.Is(err, attendance.ErrUnknownRecord):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrNotEditing),
		errors.Is(err, attendance.ErrSaveInProgress),
		errors.Is(err, attendance.ErrStaleLoad):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "portal request failed", "status": apiErr.Status})
	default:
		log.Printf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
