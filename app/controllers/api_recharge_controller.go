package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/RetroPix/RetroPix/internal/pkg/database"
	"github.com/RetroPix/RetroPix/internal/pkg/recharge"
	"github.com/RetroPix/RetroPix/internal/pkg/usercontext"
)

type createRechargeRequest struct {
	Credits     int64  `json:"credits" validate:"required,gt=0"`
	PriceCents  int64  `json:"price_cents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	PackageName string `json:"package_name" validate:"omitempty,max=100"`
}

// HandleCreateRecharge starts a credit purchase and returns the client secret
// for the payment widget. Credits are only granted once the provider confirms
// the payment via webhook.
func HandleCreateRecharge(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req createRechargeRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_body", "Request body could not be parsed")
	}
	if err := validate.Struct(req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	svc := recharge.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	rec, clientSecret, err := svc.CreateIntent(ctx, userCtx.UserID, req.Credits, req.PriceCents, req.Currency, req.PackageName)
	if err != nil {
		if errors.Is(err, recharge.ErrPaymentProviderFailure) {
			return apiError(c, fiber.StatusBadGateway, "payment_provider_failure", "Payment provider rejected the request")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create recharge")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":       true,
		"recharge_id":   rec.ID,
		"status":        rec.Status,
		"credits":       rec.Credits,
		"client_secret": clientSecret,
	})
}

// HandleListRecharges returns the authenticated user's recharge history.
func HandleListRecharges(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	svc := recharge.NewServiceFromDB(database.GetDB())
	recharges, err := svc.ListByUser(context.Background(), userCtx.UserID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load recharges")
	}

	items := make([]fiber.Map, 0, len(recharges))
	for _, r := range recharges {
		items = append(items, fiber.Map{
			"recharge_id":  r.ID,
			"credits":      r.Credits,
			"price_cents":  r.PriceCents,
			"currency":     r.Currency,
			"package_name": r.PackageName,
			"status":       r.Status,
			"created_at":   r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"recharges": items})
}
