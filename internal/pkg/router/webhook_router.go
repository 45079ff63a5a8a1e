package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/RetroPix/RetroPix/app/controllers"
)

type WebhookRouter struct {
}

// InstallRouter registers the provider-facing webhook endpoint. No API key
// auth here; the HMAC signature on the payload is the authentication.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/payment", controllers.HandlePaymentWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
