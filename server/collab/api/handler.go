package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"taskhub/server/collab/domain"
	"taskhub/server/collab/repository"
	"taskhub/server/collab/service"
	commonauth "taskhub/server/common/auth"
	"taskhub/server/common/middleware"
)

type Handler struct {
	notify   *service.NotifyService
	ws       *service.RealtimeService
	exporter *service.Exporter
	users    repository.UserStore
	auth     *commonauth.Service
}

func NewHandler(notify *service.NotifyService, ws *service.RealtimeService, exporter *service.Exporter, users repository.UserStore, jwtSecret string, jwtTTLMinutes int) *Handler {
	auth := commonauth.NewService(jwtSecret, jwtTTLMinutes)
	return &Handler{notify: notify, ws: ws, exporter: exporter, users: users, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, NewHealthResponse("ok")) })
	r.GET("/ws", h.handleWS)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.GET("/notifications", h.listNotifications)
		api.GET("/notifications/unread-count", h.unreadCount)
		api.POST("/notifications/read", h.markRead)
		api.POST("/notifications/read-all", h.markAllRead)
		api.DELETE("/notifications/:id", h.deleteNotification)
		api.GET("/notifications/stats", h.stats)
		api.GET("/notifications/export", h.exportNotifications)
		api.POST("/notifications/test", h.sendTest)
		api.GET("/preferences", h.getPreferences)
		api.PUT("/preferences", h.updatePreferences)

		// Dispatch entry points for the domain-write handlers. Callers
		// decide whether a mutation warrants a notification (and skip
		// self-notification); this surface only runs the pipeline.
		internal := api.Group("/internal")
		{
			internal.POST("/notifications", h.dispatch)
			internal.POST("/notifications/bulk", h.dispatchBulk)
		}
	}
}

// handleWS authenticates the websocket handshake: the credential must parse
// and its identity must still exist before the connection is admitted.
func (h *Handler) handleWS(c *gin.Context) {
	token, ok := wsAccessToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(ErrMissingBearerToken))
		return
	}
	userID, orgID, err := h.auth.ParseAuthContext(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(ErrInvalidToken))
		return
	}
	if _, err := h.users.GetByID(c.Request.Context(), userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, NewErrorResponse(ErrInvalidToken))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.Set("auth_access_token", token)
	c.Set("auth_user_id", userID)
	c.Set("auth_org_id", orgID)
	h.ws.HandleWS(c)
}

func wsAccessToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		return "", false
	}
	return token, true
}

func (h *Handler) listNotifications(c *gin.Context) {
	userID := c.GetString("auth_user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	filter := repository.NotificationFilter{
		UnreadOnly: c.Query("unread") == "true",
		Limit:      limit,
		Offset:     offset,
	}
	if kind := strings.TrimSpace(c.Query("kind")); kind != "" {
		if !domain.ValidKind(domain.NotificationKind(kind)) {
			c.JSON(http.StatusBadRequest, NewErrorResponse("unknown notification kind"))
			return
		}
		filter.Kind = domain.NotificationKind(kind)
	}

	items, err := h.notify.List(c.Request.Context(), userID, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewPaginatedResponse(items, filter.Limit, filter.Offset))
}

func (h *Handler) unreadCount(c *gin.Context) {
	count, err := h.notify.UnreadCount(c.Request.Context(), c.GetString("auth_user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, UnreadCountResponse{UnreadCount: count})
}

func (h *Handler) markRead(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse("ids are required"))
		return
	}
	updated, err := h.notify.MarkRead(c.Request.Context(), c.GetString("auth_user_id"), req.IDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	if updated == nil {
		updated = []string{}
	}
	c.JSON(http.StatusOK, MarkReadResponse{UpdatedIDs: updated})
}

func (h *Handler) markAllRead(c *gin.Context) {
	count, err := h.notify.MarkAllRead(c.Request.Context(), c.GetString("auth_user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, MarkAllReadResponse{Updated: count})
}

func (h *Handler) deleteNotification(c *gin.Context) {
	err := h.notify.Delete(c.Request.Context(), c.GetString("auth_user_id"), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, NewErrorResponse(ErrNotFound))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.notify.Stats(c.Request.Context(), c.GetString("auth_user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) exportNotifications(c *gin.Context) {
	userID := c.GetString("auth_user_id")
	format := c.DefaultQuery("format", "json")

	if c.Query("archive") == "true" {
		url, err := h.exporter.Archive(c.Request.Context(), userID, format)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, NewURLResponse(url))
		return
	}

	filename, contentType, data, err := h.exporter.Export(c.Request.Context(), userID, format)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, contentType, data)
}

func (h *Handler) sendTest(c *gin.Context) {
	userID := c.GetString("auth_user_id")
	var req struct {
		Kind    string `json:"kind"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	_ = c.ShouldBindJSON(&req)

	intent := domain.NotificationIntent{
		RecipientID: userID,
		Kind:        domain.KindSystemAnnouncement,
		Title:       "Test notification",
		Message:     "This is a test notification.",
		Priority:    domain.PriorityLow,
	}
	if req.Kind != "" {
		intent.Kind = domain.NotificationKind(req.Kind)
	}
	if req.Title != "" {
		intent.Title = req.Title
	}
	if req.Message != "" {
		intent.Message = req.Message
	}
	if err := intent.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	created, err := h.notify.Dispatch(c.Request.Context(), intent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) getPreferences(c *gin.Context) {
	profile, err := h.notify.Preferences(c.Request.Context(), c.GetString("auth_user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) updatePreferences(c *gin.Context) {
	var profile domain.PreferenceProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	profile.UserID = c.GetString("auth_user_id")
	if err := h.notify.UpdatePreferences(c.Request.Context(), profile); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) dispatch(c *gin.Context) {
	var intent domain.NotificationIntent
	if err := c.ShouldBindJSON(&intent); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	if err := intent.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	created, err := h.notify.Dispatch(c.Request.Context(), intent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) dispatchBulk(c *gin.Context) {
	var req struct {
		RecipientIDs []string                  `json:"recipient_ids"`
		Intent       domain.NotificationIntent `json:"intent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.RecipientIDs) == 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse("recipient_ids are required"))
		return
	}

	outcomes := h.notify.DispatchToMany(c.Request.Context(), req.RecipientIDs, req.Intent)
	results := make([]BulkDispatchResult, 0, len(outcomes))
	for _, outcome := range outcomes {
		result := BulkDispatchResult{RecipientID: outcome.RecipientID}
		if outcome.Err != nil {
			result.Error = outcome.Err.Error()
		} else if outcome.Notification != nil {
			result.NotificationID = outcome.Notification.ID
		}
		results = append(results, result)
	}
	c.JSON(http.StatusOK, results)
}
