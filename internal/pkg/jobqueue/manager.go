package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/internal/pkg/billing"
)

// RenewalRefresher re-grants subscriptions whose provider stopped sending renewals.
type RenewalRefresher interface {
	RefreshRenewals(ctx context.Context) (*billing.RefreshResult, error)
}

// Manager runs the job queue together with the periodic renewal refresh.
type Manager struct {
	queue           *Queue
	refresher       RenewalRefresher
	refreshInterval time.Duration
	refreshTicker   *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

// NewManager creates a manager. A nil refresher or a non-positive interval
// disables the renewal ticker.
func NewManager(queue *Queue, refresher RenewalRefresher, refreshInterval time.Duration) *Manager {
	return &Manager{
		queue:           queue,
		refresher:       refresher,
		refreshInterval: refreshInterval,
		stopCh:          make(chan struct{}),
	}
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

	m.queue.Start()

	if m.refresher != nil && m.refreshInterval > 0 {
		m.refreshTicker = time.NewTicker(m.refreshInterval)
		m.wg.Add(1)
		go m.refreshWorker()
	}

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

	if m.refreshTicker != nil {
		m.refreshTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// refreshWorker runs the renewal refresh on every tick
func (m *Manager) refreshWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started renewal refresh worker (interval: %s)", m.refreshInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Renewal refresh worker stopping")
			return
		case <-m.refreshTicker.C:
			m.RunRefreshOnce(context.Background())
		}
	}
}

// RunRefreshOnce runs a single renewal refresh; failures are logged.
func (m *Manager) RunRefreshOnce(ctx context.Context) *billing.RefreshResult {
	if m.refresher == nil {
		return &billing.RefreshResult{}
	}
	res, err := m.refresher.RefreshRenewals(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Renewal refresh error: %v", err)
		return &billing.RefreshResult{}
	}
	return res
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
