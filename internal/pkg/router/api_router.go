package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/RetroPix/RetroPix/app/controllers"
	"github.com/RetroPix/RetroPix/internal/pkg/env"
	"github.com/RetroPix/RetroPix/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes, all behind API key auth
	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())
	v1.Get("/credits", controllers.HandleGetCredits)
	v1.Get("/costs", controllers.HandleListActionCosts)
	v1.Get("/subscriptions", controllers.HandleListSubscriptions)
	v1.Post("/recharges", controllers.HandleCreateRecharge)
	v1.Get("/recharges", controllers.HandleListRecharges)
	v1.Post("/generations", controllers.HandleSubmitGeneration)
	v1.Get("/generations/:uuid", controllers.HandleGetGeneration)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// newLimiterStorage backs the rate limiter with Redis so limits hold across
// instances
func newLimiterStorage() *redisstorage.Storage {
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host: env.GetEnv("CACHE_HOST", "localhost"),
		Port: port,
	})
}
