package middleware

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/graphloom/backend/pkg/commit"
	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/staging"
	"github.com/graphloom/backend/pkg/syncer"
	"github.com/graphloom/backend/pkg/trust"
)

// App bundles every dependency the route handlers need.
type App struct {
	DBConn  *pgxpool.Pool
	Queue   *amqp091.Channel
	Staging staging.Store
	Commits *commit.Pipeline
	Syncer  *syncer.Synchronizer
	Runs    syncer.RunStore
	Trust   *trust.Engine
}

// AppContext decorates the echo context with the app and the request's
// tenant/workspace scope.
type AppContext struct {
	echo.Context
	App   *App
	Scope common.Scope
}

// AppContextMiddleware attaches the app to every request.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{Context: c, App: app}
			return next(cc)
		}
	}
}

// ScopeMiddleware requires the X-Tenant-ID and X-Workspace-ID headers on
// every scoped route. Auth and RBAC live in front of this service; the
// headers are the interface boundary.
func ScopeMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cc, ok := c.(*AppContext)
		if !ok {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "missing app context"})
		}

		tenantID := c.Request().Header.Get("X-Tenant-ID")
		workspaceID := c.Request().Header.Get("X-Workspace-ID")
		if tenantID == "" || workspaceID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "X-Tenant-ID and X-Workspace-ID headers are required",
			})
		}

		cc.Scope = common.Scope{TenantID: tenantID, WorkspaceID: workspaceID}
		return next(cc)
	}
}
