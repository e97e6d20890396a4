package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"userlifecycle/pkg/middleware"
)

// NewRouter creates and configures the Gin router. Lookup variants (by
// email, by name fragment, by tags) hang off the collection endpoint as
// query parameters because gin's tree cannot mix static children with the
// :id wildcard.
func NewRouter(users *UserHandler, system *SystemHandler) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CorrelationID())

	r.GET("/health", system.Health)
	r.GET("/metrics", system.Metrics)

	// Swagger
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// User routes
	r.POST("/users", users.CreateUser)
	r.GET("/users", users.ListUsers)
	r.GET("/users/:id", users.GetUser)
	r.PUT("/users/:id", users.UpdateUser)
	r.DELETE("/users/:id", users.DeleteUser)

	return r
}
