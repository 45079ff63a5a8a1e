package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/RetroPix/RetroPix/app/repository"
	"github.com/RetroPix/RetroPix/internal/pkg/database"
	"github.com/RetroPix/RetroPix/internal/pkg/generation"
	"github.com/RetroPix/RetroPix/internal/pkg/jobqueue"
	"github.com/RetroPix/RetroPix/internal/pkg/ledger"
	"github.com/RetroPix/RetroPix/internal/pkg/pricing"
	"github.com/RetroPix/RetroPix/internal/pkg/usercontext"
)

type submitGenerationRequest struct {
	ActionType string `json:"action_type" validate:"required,max=50"`
	InputRef   string `json:"input_ref" validate:"required,max=500"`
}

// HandleSubmitGeneration accepts a colorization/restoration job. Credits are
// reserved up front; an insufficient balance rejects the request with 402 and
// leaves no record behind.
func HandleSubmitGeneration(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req submitGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_body", "Request body could not be parsed")
	}
	if err := validate.Struct(req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	svc := generation.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	gen, err := svc.Submit(ctx, userCtx.UserID, req.ActionType, req.InputRef)
	if err != nil {
		if errors.Is(err, pricing.ErrUnknownActionType) {
			return apiError(c, fiber.StatusBadRequest, "unknown_action_type", "Action type is not available")
		}
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			return apiError(c, fiber.StatusPaymentRequired, "insufficient_credits", "Not enough credits for this action")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to submit generation")
	}

	payload := jobqueue.GenerationDispatchJobPayload{
		GenerationID:   gen.ID,
		GenerationUUID: gen.UUID,
		ActionType:     gen.Type,
		InputRef:       gen.InputRef,
	}
	if _, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypeGenerationDispatch, payload.ToMap()); err != nil {
		// The row stays pending; the timeout sweep will settle it and return
		// the credits if no worker ever picks it up.
		log.Errorf("[API] Failed to enqueue generation %s: %v", gen.UUID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to enqueue generation")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":          true,
		"generation_uuid":  gen.UUID,
		"status":           gen.Status,
		"credits_reserved": gen.CreditsReserved,
	})
}

// HandleGetGeneration returns the status of one generation owned by the
// caller. The status comes from the cache when present, the row otherwise.
func HandleGetGeneration(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	uuid := c.Params("uuid")
	svc := generation.NewServiceFromDB(database.GetDB())
	gen, err := svc.GetByUUID(context.Background(), uuid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apiError(c, fiber.StatusNotFound, "not_found", "Generation not found")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load generation")
	}
	if gen.UserID != userCtx.UserID {
		return apiError(c, fiber.StatusNotFound, "not_found", "Generation not found")
	}

	status := gen.Status
	if cached, err := generation.GetGenerationStatus(gen.UUID); err == nil && cached != "" {
		status = cached
	}

	resp := fiber.Map{
		"generation_uuid":  gen.UUID,
		"action_type":      gen.Type,
		"status":           status,
		"credits_reserved": gen.CreditsReserved,
		"input_ref":        gen.InputRef,
		"created_at":       gen.CreatedAt.UTC().Format(time.RFC3339),
	}
	if gen.OutputRef != "" {
		resp["output_ref"] = gen.OutputRef
	}
	if gen.ErrorMsg != "" {
		resp["error_msg"] = gen.ErrorMsg
	}
	return c.JSON(resp)
}

// HandleGetCredits returns the caller's current credit balance.
func HandleGetCredits(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	svc := ledger.NewServiceFromDB(database.GetDB())
	balance, err := svc.GetBalance(context.Background(), userCtx.UserID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load balance")
	}

	return c.JSON(fiber.Map{"user_id": userCtx.UserID, "balance": balance})
}

// HandleListActionCosts returns the active credit price list.
func HandleListActionCosts(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetCreditCostRepository()
	costs, err := repo.ListActive()
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load price list")
	}

	items := make([]fiber.Map, 0, len(costs))
	for _, cost := range costs {
		items = append(items, fiber.Map{"action_type": cost.ActionType, "credits": cost.Credits})
	}
	return c.JSON(fiber.Map{"costs": items})
}
