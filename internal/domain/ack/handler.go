package ack

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/stationboard/stationboard/internal/platform/apperr"
	"github.com/stationboard/stationboard/internal/platform/auth"
	"github.com/stationboard/stationboard/internal/platform/cache"
	"github.com/stationboard/stationboard/internal/platform/middleware"
	"github.com/stationboard/stationboard/pkg/pagination"
)

type Handler struct {
	svc      *Service
	cache    *cache.Cache
	cacheTTL time.Duration
}

func NewHandler(svc *Service, respCache *cache.Cache, cacheTTL time.Duration) *Handler {
	return &Handler{svc: svc, cache: respCache, cacheTTL: cacheTTL}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/stations/:station_id/cases", h.ListStationCases)
	api.GET("/stations/:station_id/day", h.GetDayState)
	api.POST("/stations/:station_id/day/reset", h.ResetDay)

	api.GET("/cases/:case_id/evaluation", h.EvaluateCase)
	api.GET("/cases/:case_id/history", h.CaseHistory)
	api.POST("/cases/:case_id/acks", h.SubmitAck, auth.RequirePermission(auth.PermAckWrite))
	api.DELETE("/cases/:case_id/acks/:rule_id", h.UndoAck, auth.RequirePermission(auth.PermAckWrite))
}

// ListStationCases serves the expensive multi-case aggregate through the
// response cache. The cache key carries the actor's station scope so a
// scoped user can never see a cached unscoped view.
func (h *Handler) ListStationCases(c echo.Context) error {
	stationID := c.Param("station_id")
	category := c.QueryParam("category")
	pg := pagination.FromContext(c)
	actor, _ := auth.ActorFromContext(c.Request().Context())

	key := fmt.Sprintf("station:%s:cases:cat=%s:l=%d:o=%d:scope=%v",
		stationID, category, pg.Limit, pg.Offset, actor.StationScope)

	if inm := c.Request().Header.Get("If-None-Match"); inm != "" && h.cache.CheckETag(key, inm) {
		return c.NoContent(http.StatusNotModified)
	}

	body, etag, err := h.cache.GetOrCompute(key, func() ([]byte, error) {
		view, err := h.svc.ListCases(c.Request().Context(), stationID, category, pg.Limit, pg.Offset)
		if err != nil {
			return nil, err
		}
		return json.Marshal(view)
	}, h.cacheTTL)
	if err != nil {
		return httpError(err)
	}

	c.Response().Header().Set("ETag", etag)
	if middleware.ETagMatch(c.Request().Header.Get("If-None-Match"), etag) {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (h *Handler) EvaluateCase(c echo.Context) error {
	ev, err := h.svc.EvaluateCase(c.Request().Context(), c.Param("case_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

func (h *Handler) SubmitAck(c echo.Context) error {
	var in SubmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.CaseID = c.Param("case_id")

	res, err := h.svc.Submit(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) UndoAck(c echo.Context) error {
	err := h.svc.Undo(c.Request().Context(), c.Param("case_id"), c.Param("rule_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"undone": true})
}

func (h *Handler) GetDayState(c echo.Context) error {
	ds, err := h.svc.DayState(c.Request().Context(), c.Param("station_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ds)
}

func (h *Handler) ResetDay(c echo.Context) error {
	res, err := h.svc.ResetDay(c.Request().Context(), c.Param("station_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CaseHistory(c echo.Context) error {
	pg := pagination.FromContext(c)
	events, total, err := h.svc.CaseHistory(c.Request().Context(), c.Param("case_id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg.Limit, pg.Offset))
}

// httpError translates core error kinds to HTTP. Conflicts carry their
// blocker list so the UI can show what is still open.
func httpError(err error) error {
	var ce *apperr.ConflictError
	if errors.As(err, &ce) {
		return echo.NewHTTPError(http.StatusConflict, map[string]any{
			"message":       ce.Reason,
			"open_rule_ids": ce.OpenRuleIDs,
		})
	}
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
}
