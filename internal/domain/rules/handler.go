package rules

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stationboard/stationboard/internal/platform/apperr"
	"github.com/stationboard/stationboard/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/shift-reasons", h.ListShiftReasons)

	admin := api.Group("/rules", auth.RequirePermission(auth.PermRuleAdmin))
	admin.GET("", h.ListRules)
	admin.GET("/:rule_id", h.GetRule)
	admin.POST("", h.CreateRule)
	admin.PUT("/:rule_id", h.UpdateRule)
	admin.PUT("/:rule_id/enabled", h.SetEnabled)
}

func (h *Handler) ListRules(c echo.Context) error {
	actor, _ := auth.ActorFromContext(c.Request().Context())
	list, err := h.svc.ListRules(c.Request().Context(), actor.UserID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetRule(c echo.Context) error {
	rd, err := h.svc.GetRule(c.Request().Context(), c.Param("rule_id"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.JSON(http.StatusOK, rd)
}

func (h *Handler) CreateRule(c echo.Context) error {
	var rd RuleDefinition
	if err := c.Bind(&rd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.CreateRule(c.Request().Context(), &rd, actor.UserID); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.JSON(http.StatusCreated, rd)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	var rd RuleDefinition
	if err := c.Bind(&rd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rd.RuleID = c.Param("rule_id")
	actor, _ := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.UpdateRule(c.Request().Context(), &rd, actor.UserID); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.JSON(http.StatusOK, rd)
}

func (h *Handler) SetEnabled(c echo.Context) error {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.SetRuleEnabled(c.Request().Context(), c.Param("rule_id"), body.Enabled, actor.UserID); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.JSON(http.StatusOK, map[string]any{"rule_id": c.Param("rule_id"), "enabled": body.Enabled})
}

func (h *Handler) ListShiftReasons(c echo.Context) error {
	list, err := h.svc.ListShiftReasons(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.JSON(http.StatusOK, list)
}
