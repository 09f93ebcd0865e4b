package cases

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stationboard/stationboard/internal/platform/apperr"
	"github.com/stationboard/stationboard/internal/platform/auth"
)

type Handler struct {
	svc *Service
	// invalidate drops cached station views after an import changes the
	// underlying data. May be nil.
	invalidate func(prefix string)
}

func NewHandler(svc *Service, invalidate func(prefix string)) *Handler {
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &Handler{svc: svc, invalidate: invalidate}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/cases/:case_id", h.GetCase)
	api.PUT("/cases/:case_id", h.ImportCase, auth.RequireRole("integration"))
}

// GetCase returns the raw case record without evaluation. The evaluated view
// lives under /cases/:case_id/evaluation.
func (h *Handler) GetCase(c echo.Context) error {
	cs, err := h.svc.GetCase(c.Request().Context(), c.Param("case_id"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.JSON(http.StatusOK, cs)
}

// ImportCase upserts a case record from the upstream hospital system.
func (h *Handler) ImportCase(c echo.Context) error {
	var in Case
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.ID = c.Param("case_id")

	if err := h.svc.ImportCase(c.Request().Context(), &in); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	h.invalidate("station:" + in.StationID + ":")
	return c.JSON(http.StatusOK, in)
}
