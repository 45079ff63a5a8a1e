package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/RetroPix/RetroPix/internal/pkg/database"
	"github.com/RetroPix/RetroPix/internal/pkg/env"
	"github.com/RetroPix/RetroPix/internal/pkg/generation"
	"github.com/RetroPix/RetroPix/internal/pkg/recharge"
)

const (
	generationTimeoutSweepInterval = 1 * time.Minute
	generationProcessingMaxAge     = 30 * time.Minute

	rechargeRecoverySweepInterval = 5 * time.Minute
	rechargePendingMaxAge         = 30 * time.Minute
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue                   *Queue
	generationTimeoutTicker *time.Ticker
	rechargeRecoveryTicker  *time.Ticker
	stopCh                  chan struct{}
	wg                      sync.WaitGroup
	mu                      sync.Mutex
	running                 bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 5
		if v, err := strconv.Atoi(env.GetEnv("JOB_QUEUE_WORKERS", "5")); err == nil && v > 0 {
			workerCount = v
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Start generation timeout sweep
	m.generationTimeoutTicker = time.NewTicker(generationTimeoutSweepInterval)
	m.wg.Add(1)
	go m.generationTimeoutWorker()

	// Start stuck recharge recovery
	m.rechargeRecoveryTicker = time.NewTicker(rechargeRecoverySweepInterval)
	m.wg.Add(1)
	go m.rechargeRecoveryWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.generationTimeoutTicker != nil {
		m.generationTimeoutTicker.Stop()
	}
	if m.rechargeRecoveryTicker != nil {
		m.rechargeRecoveryTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// generationTimeoutWorker periodically fails processing generations whose
// last transition is too old, releasing their credit holds
func (m *Manager) generationTimeoutWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started generation timeout worker (interval: %s)", generationTimeoutSweepInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Generation timeout worker stopping")
			return
		case <-m.generationTimeoutTicker.C:
			svc := generation.NewServiceFromDB(database.GetDB())
			if _, err := svc.FailTimedOut(context.Background(), generationProcessingMaxAge); err != nil {
				log.Errorf("[JobQueue Manager] Generation timeout sweep error: %v", err)
			}
		}
	}
}

// rechargeRecoveryWorker periodically fails pending recharges that never got
// a provider intent
func (m *Manager) rechargeRecoveryWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started recharge recovery worker (interval: %s)", rechargeRecoverySweepInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Recharge recovery worker stopping")
			return
		case <-m.rechargeRecoveryTicker.C:
			svc := recharge.NewServiceFromDB(database.GetDB())
			if _, err := svc.RecoverStuckIntents(context.Background(), rechargePendingMaxAge); err != nil {
				log.Errorf("[JobQueue Manager] Recharge recovery sweep error: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
