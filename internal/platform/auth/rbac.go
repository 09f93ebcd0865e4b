package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Permission names used throughout the API.
const (
	PermAckWrite  = "ack:write"
	PermDayReset  = "day:reset"
	PermRuleAdmin = "rules:admin"
)

// RequireRole returns middleware that checks if the actor has at least one of
// the specified roles. The lead role passes every role gate.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if actor.HasRole("lead") || actor.HasRole(roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequirePermission returns middleware that checks a single permission.
func RequirePermission(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if !actor.HasPermission(perm) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("required permission: %s", perm))
			}
			return next(c)
		}
	}
}

// RequireStationScope returns middleware that checks the actor may access the
// station named by the given path parameter.
func RequireStationScope(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			station := c.Param(param)
			if station != "" && !actor.CanAccessStation(station) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("station %s outside actor scope", station))
			}
			return next(c)
		}
	}
}
