package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/intake/internal/relay"
	"github.com/memohai/intake/internal/requests"
)

// RequestReader is the read side of the request store.
type RequestReader interface {
	Get(ctx context.Context, id string) (requests.Record, error)
	List(ctx context.Context, filter requests.Filter) ([]requests.Record, error)
	Filters(ctx context.Context) (requests.Filters, error)
	Stats(ctx context.Context, now time.Time) (requests.Stats, error)
}

// Relayer records operator responses.
type Relayer interface {
	Relay(ctx context.Context, requestID, response string, status requests.Status) (requests.Record, error)
}

// AdminHandler serves the operator API over request records.
type AdminHandler struct {
	logger *slog.Logger
	store  RequestReader
	relay  Relayer
	now    func() time.Time
}

type RespondRequest struct {
	Response string `json:"response" validate:"required"`
	Status   string `json:"status" validate:"required,oneof=in_progress completed rejected"`
}

type LegacyRespondRequest struct {
	RequestID string `json:"requestId" validate:"required"`
	Response  string `json:"response" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=in_progress completed rejected"`
}

type ListRequestsResponse struct {
	Items []requests.Record `json:"items"`
}

func NewAdminHandler(log *slog.Logger, store RequestReader, relayer Relayer) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{
		logger: log.With(slog.String("handler", "admin")),
		store:  store,
		relay:  relayer,
		now:    time.Now,
	}
}

func (h *AdminHandler) Register(e *echo.Echo) {
	group := e.Group("/admin")
	group.GET("/requests", h.ListRequests)
	group.GET("/requests/:id", h.GetRequest)
	group.POST("/requests/:id/respond", h.Respond)
	group.POST("/respond", h.RespondLegacy)
	group.GET("/filters", h.Filters)
	group.GET("/stats", h.Stats)
}

// ListRequests godoc
// @Summary List requests
// @Description List requests, most recent first
// @Tags admin
// @Param store query string false "Store"
// @Param region query string false "Region"
// @Param status query string false "Status"
// @Param limit query int false "Limit"
// @Success 200 {object} ListRequestsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/requests [get]
func (h *AdminHandler) ListRequests(c echo.Context) error {
	filter := requests.Filter{
		Store:  strings.TrimSpace(c.QueryParam("store")),
		Region: strings.TrimSpace(c.QueryParam("region")),
		Status: requests.Status(strings.TrimSpace(c.QueryParam("status"))),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = limit
	}
	items, err := h.store.List(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []requests.Record{}
	}
	return c.JSON(http.StatusOK, ListRequestsResponse{Items: items})
}

// GetRequest godoc
// @Summary Get request
// @Tags admin
// @Param id path string true "Request ID"
// @Success 200 {object} requests.Record
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/requests/{id} [get]
func (h *AdminHandler) GetRequest(c echo.Context) error {
	id := strings.TrimPrefix(strings.TrimSpace(c.Param("id")), "#")
	record, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "request not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, record)
}

// Respond godoc
// @Summary Respond to request
// @Description Record the operator response and notify the requester
// @Tags admin
// @Param id path string true "Request ID"
// @Param payload body RespondRequest true "Response"
// @Success 200 {object} requests.Record
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/requests/{id}/respond [post]
func (h *AdminHandler) Respond(c echo.Context) error {
	var req RespondRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	return h.respond(c, c.Param("id"), req.Response, req.Status)
}

// RespondLegacy godoc
// @Summary Respond to request (request id in body)
// @Tags admin
// @Param payload body LegacyRespondRequest true "Response"
// @Success 200 {object} requests.Record
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/respond [post]
func (h *AdminHandler) RespondLegacy(c echo.Context) error {
	var req LegacyRespondRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	return h.respond(c, req.RequestID, req.Response, req.Status)
}

func (h *AdminHandler) respond(c echo.Context, id, response, status string) error {
	// The user notification must not be cut short by the admin client disconnecting.
	ctx := context.WithoutCancel(c.Request().Context())
	record, err := h.relay.Relay(ctx, id, response, requests.Status(status))
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrRequestNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "request not found")
		case errors.Is(err, relay.ErrInvalidStatus):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, relay.ErrRequestClosed):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			h.logger.Error("relay response failed", slog.String("request_id", id), slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, record)
}

// Filters godoc
// @Summary Filter values
// @Description Distinct stores, regions and statuses
// @Tags admin
// @Success 200 {object} requests.Filters
// @Failure 500 {object} ErrorResponse
// @Router /admin/filters [get]
func (h *AdminHandler) Filters(c echo.Context) error {
	filters, err := h.store.Filters(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, filters)
}

// Stats godoc
// @Summary Request statistics
// @Tags admin
// @Success 200 {object} requests.Stats
// @Failure 500 {object} ErrorResponse
// @Router /admin/stats [get]
func (h *AdminHandler) Stats(c echo.Context) error {
	stats, err := h.store.Stats(c.Request().Context(), h.now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
