package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/RetroPix/RetroPix/internal/pkg/database"
	"github.com/RetroPix/RetroPix/internal/pkg/generation"
)

// Factories are variables so tests can inject fakes without a database or a
// live inference gateway.
var (
	GenerationServiceFactory = func() GenerationStateMachine {
		return generation.NewServiceFromDB(database.GetDB())
	}
	ExecutorFactory = generation.NewHTTPExecutorFromEnv
)

// GenerationStateMachine is the slice of the generation service the queue
// drives. Satisfied by *generation.Service.
type GenerationStateMachine interface {
	MarkDispatched(ctx context.Context, id uint) error
	Complete(ctx context.Context, id uint, outputRef string) error
	Fail(ctx context.Context, id uint, reason string) error
}

// processGenerationDispatchJob hands one generation to the AI backend and
// records the outcome. An executor error is returned to the queue so the
// retry policy applies; the reserved credits are only touched on completion
// or on permanent failure.
func (q *Queue) processGenerationDispatchJob(ctx context.Context, job *Job) error {
	payload, err := GenerationDispatchJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse generation dispatch payload: %w", err)
	}

	svc := GenerationServiceFactory()
	if err := svc.MarkDispatched(ctx, payload.GenerationID); err != nil {
		return fmt.Errorf("failed to mark generation %d dispatched: %w", payload.GenerationID, err)
	}

	executor := ExecutorFactory()
	result, err := executor.Run(ctx, generation.ExecutorJob{
		RecordUUID: payload.GenerationUUID,
		Type:       payload.ActionType,
		InputRef:   payload.InputRef,
	})
	if err != nil {
		return fmt.Errorf("generation %s failed: %w", payload.GenerationUUID, err)
	}

	if err := svc.Complete(ctx, payload.GenerationID, result.OutputRef); err != nil {
		return fmt.Errorf("failed to complete generation %d: %w", payload.GenerationID, err)
	}

	log.Infof("[JobQueue] Generation %s completed", payload.GenerationUUID)
	return nil
}

// failGenerationPermanently settles the generation row once dispatch retries
// are exhausted, releasing the credit hold back to the user.
func (q *Queue) failGenerationPermanently(ctx context.Context, job *Job, cause error) {
	payload, err := GenerationDispatchJobPayloadFromMap(job.Payload)
	if err != nil {
		log.Errorf("[JobQueue] Cannot fail generation for job %s, bad payload: %v", job.ID, err)
		return
	}

	svc := GenerationServiceFactory()
	if err := svc.Fail(ctx, payload.GenerationID, cause.Error()); err != nil {
		log.Errorf("[JobQueue] Failed to settle generation %d after permanent job failure: %v", payload.GenerationID, err)
		return
	}
	log.Warnf("[JobQueue] Generation %s permanently failed: %v", payload.GenerationUUID, cause)
}
