package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osvaldoandrade/jwtguard/internal/controllers"
	"github.com/osvaldoandrade/jwtguard/internal/middleware"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", controllers.NewHealthzController(app.Validator).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := app.Engine.Group("/v1")
	{
		v1.POST("/tokens/:type/validate", controllers.NewValidateTokenController(app.Validator).Handle)

		authed := v1.Group("", middleware.BearerAuth(app.Validator))
		authed.GET("/me", controllers.NewMeController().Handle)

		events := controllers.NewSecurityEventsController(app.Validator)
		admin := authed.Group("/admin", middleware.RequireRoles(app.Config.AdminRole))
		admin.GET("/security-events", events.Handle)
		admin.DELETE("/security-events", events.ResetHandle)
	}
}
