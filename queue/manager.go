// Durable action queue. Every user-initiated mutation is persisted as
// a task before any network attempt is made, deduplicated by key, and
// drained by a processor gated on connectivity. Handlers are
// registered per task type after construction; the drain loop claims
// tasks one at a time and records every outcome on the row.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quorum-im/go-quorum/clock"
	"github.com/quorum-im/go-quorum/config"
	"github.com/quorum-im/go-quorum/store"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("action queue is full")

// Enqueue outcomes. Coalesced and Skipped are normal no-op results of
// the dedup contract, not errors.
type Outcome int

const (
	OutcomeEnqueued Outcome = iota
	OutcomeCoalesced
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEnqueued:
		return "enqueued"
	case OutcomeCoalesced:
		return "coalesced"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Handler executes one task attempt. A nil return completes the task.
// A returned error marks the attempt failed; wrap it in Permanent to
// suppress further retries.
type Handler func(ctx context.Context, task *store.QueueTask, payload Payload) error

// Permanent marks a handler error as non-retryable.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string {
	return p.Err.Error()
}

func (p *Permanent) Unwrap() error {
	return p.Err
}

// StateUpdate is emitted on the updates channel whenever the online
// gate flips or a drain changes queue contents.
type StateUpdate struct {
	Online  bool
	Pending int
	Failed  int
}

type Manager struct {
	config *config.Config
	store  *store.Store
	clock  clock.Clock
	log    *zap.SugaredLogger

	handlerLock sync.RWMutex
	handlers    map[TaskType]Handler

	gateLock           sync.Mutex
	transportConnected bool
	hostOnline         bool
	draining           bool

	trigger    chan struct{}
	updates    chan interface{}
	cancelFunc context.CancelFunc
	finished   sync.WaitGroup
}

func NewManager(c *config.Config, s *store.Store, cl clock.Clock) *Manager {
	return &Manager{
		config:   c,
		store:    s,
		clock:    cl,
		log:      c.Logger("queue"),
		handlers: make(map[TaskType]Handler),
		trigger:  make(chan struct{}, 1),
		updates:  make(chan interface{}, 100),
		// host state defaults to online until the host reports otherwise
		hostOnline: true,
	}
}

func (m *Manager) Updates() chan interface{} {
	return m.updates
}

// RegisterHandler binds a task type to its handler. All handlers must
// be registered before Start; registration after Start races with the
// drain loop.
func (m *Manager) RegisterHandler(t TaskType, h Handler) {
	m.handlerLock.Lock()
	defer m.handlerLock.Unlock()
	m.handlers[t] = h
}

// Start repairs crash-abandoned tasks, prunes aged-out completed rows
// and launches the drain loop.
func (m *Manager) Start() error {
	reset, err := m.store.ResetStuckProcessingTasks(uint64(m.config.StuckTimeoutMs))
	if err != nil {
		return fmt.Errorf("resetting stuck tasks: %w", err)
	}
	if reset > 0 {
		m.log.Infof("recovered %d stuck tasks", reset)
	}
	if _, err := m.store.PruneCompletedTasks(uint64(m.config.TaskMaxAgeMs)); err != nil {
		return fmt.Errorf("pruning completed tasks: %w", err)
	}

	ctx, cancelFunc := context.WithCancel(context.Background())
	m.cancelFunc = cancelFunc
	m.startDrainLoop(ctx)
	return nil
}

func (m *Manager) Shutdown() error {
	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.finished.Wait()
	return nil
}

// SetTransportConnected records the transport-level connectivity
// signal. A transition into the online state triggers a drain.
func (m *Manager) SetTransportConnected(connected bool) {
	m.setGate(&m.transportConnected, connected)
}

// SetHostOnline records the host-reported network state. The host
// signal lags on silent disconnects, which is why it is only half of
// the gate.
func (m *Manager) SetHostOnline(online bool) {
	m.setGate(&m.hostOnline, online)
}

func (m *Manager) setGate(field *bool, val bool) {
	m.gateLock.Lock()
	wasOnline := m.transportConnected && m.hostOnline
	*field = val
	nowOnline := m.transportConnected && m.hostOnline
	m.gateLock.Unlock()
	if wasOnline != nowOnline {
		m.log.Debugf("online gate now %t", nowOnline)
		m.emitState()
	}
	if !wasOnline && nowOnline {
		m.signal()
	}
}

// Online reports the current gate value.
func (m *Manager) Online() bool {
	m.gateLock.Lock()
	defer m.gateLock.Unlock()
	return m.transportConnected && m.hostOnline
}

// Enqueue persists the action. A pending task with the same key is
// coalesced in place with the new payload; a processing task with the
// same key absorbs the enqueue entirely. When the queue is at
// capacity, completed rows are pruned first and the enqueue is
// rejected only if the queue is still full.
func (m *Manager) Enqueue(p Payload, key string) (Outcome, int64, error) {
	data, err := EncodePayload(p)
	if err != nil {
		return 0, 0, fmt.Errorf("encoding payload: %w", err)
	}

	processing, err := m.store.HasProcessingTaskWithKey(key)
	if err != nil {
		return 0, 0, err
	}
	if processing {
		m.log.Debugf("skipping enqueue for key %s, attempt in flight", key)
		return OutcomeSkipped, 0, nil
	}

	pending, err := m.store.GetPendingTasksByKey(key)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) != 0 {
		t := pending[0]
		// Conditional write: the drain loop may have claimed the task
		// since the read above, and overwriting its status would run
		// the task twice.
		coalesced, err := m.store.CoalesceQueueTask(t.ID, string(p.TaskType()), data)
		if err != nil {
			return 0, 0, err
		}
		if !coalesced {
			m.log.Debugf("skipping enqueue for key %s, attempt in flight", key)
			return OutcomeSkipped, 0, nil
		}
		m.log.Debugf("coalesced enqueue for key %s into task %d", key, t.ID)
		m.signal()
		return OutcomeCoalesced, t.ID, nil
	}

	count, err := m.store.CountQueueTasks()
	if err != nil {
		return 0, 0, err
	}
	if count >= m.config.MaxQueueSize {
		if _, err := m.store.PruneCompletedTasks(uint64(m.config.TaskMaxAgeMs)); err != nil {
			return 0, 0, err
		}
		count, err = m.store.CountQueueTasks()
		if err != nil {
			return 0, 0, err
		}
		if count >= m.config.MaxQueueSize {
			return 0, 0, ErrQueueFull
		}
	}

	now := m.clock.CurrentTimeMs()
	id, err := m.store.AddQueueTask(&store.QueueTask{
		TaskType:    string(p.TaskType()),
		Payload:     data,
		Key:         key,
		Status:      store.TaskPending,
		MaxRetries:  m.config.MaxRetries,
		NextRetryAt: now,
		CreatedAt:   now,
	})
	if err != nil {
		return 0, 0, err
	}
	m.signal()
	m.emitState()
	return OutcomeEnqueued, id, nil
}

func (m *Manager) Stats() (*store.QueueStats, error) {
	return m.store.GetQueueStats()
}

// signal requests a drain without blocking; a drain already requested
// absorbs the signal.
func (m *Manager) signal() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Manager) emitState() {
	stats, err := m.store.GetQueueStats()
	if err != nil {
		m.log.Warnf("reading queue stats: %s", err)
		return
	}
	select {
	case m.updates <- &StateUpdate{Online: m.Online(), Pending: stats.Pending, Failed: stats.Failed}:
	default:
	}
}

func (m *Manager) startDrainLoop(ctx context.Context) {
	m.finished.Add(1)
	go func() {
		defer m.finished.Done()
		ticker := time.NewTicker(time.Duration(m.config.QueueTickMs) * time.Millisecond)
		defer ticker.Stop()
		pruneEvery := 60
		ticks := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.trigger:
			case <-ticker.C:
				ticks++
				if ticks%pruneEvery == 0 {
					if _, err := m.store.PruneCompletedTasks(uint64(m.config.TaskMaxAgeMs)); err != nil {
						m.log.Warnf("pruning completed tasks: %s", err)
					}
				}
			}
			m.drain(ctx)
		}
	}()
}

// drain claims and runs ready tasks in batches until none remain. The
// in-progress guard makes the loop non-reentrant so overlapping
// triggers cannot double-claim.
func (m *Manager) drain(ctx context.Context) {
	m.gateLock.Lock()
	if m.draining || !(m.transportConnected && m.hostOnline) {
		m.gateLock.Unlock()
		return
	}
	m.draining = true
	m.gateLock.Unlock()
	defer func() {
		m.gateLock.Lock()
		m.draining = false
		m.gateLock.Unlock()
	}()

	processed := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if !m.Online() {
			break
		}
		tasks, err := m.store.GetReadyQueueTasks(m.config.QueueBatchSize)
		if err != nil {
			m.log.Errorf("loading ready tasks: %s", err)
			return
		}
		if len(tasks) == 0 {
			break
		}
		// keys claimed in this batch stay serialized
		claimed := make(map[string]bool)
		for _, t := range tasks {
			if claimed[t.Key] {
				continue
			}
			claimed[t.Key] = true
			m.runTask(ctx, t)
			processed++
		}
	}
	if processed > 0 {
		m.emitState()
	}
}

func (m *Manager) runTask(ctx context.Context, t *store.QueueTask) {
	t.Status = store.TaskProcessing
	t.ProcessingStartedAt = m.clock.CurrentTimeMs()
	if err := m.store.UpdateQueueTask(t); err != nil {
		m.log.Errorf("claiming task %d: %s", t.ID, err)
		return
	}

	err := m.dispatch(ctx, t)
	if err == nil {
		t.Status = store.TaskCompleted
		t.ProcessedAt = m.clock.CurrentTimeMs()
		t.ProcessingStartedAt = 0
		t.Error = ""
		if err := m.store.UpdateQueueTask(t); err != nil {
			m.log.Errorf("completing task %d: %s", t.ID, err)
		}
		return
	}

	t.RetryCount++
	t.Error = err.Error()
	t.ProcessingStartedAt = 0
	var perm *Permanent
	if errors.As(err, &perm) || t.RetryCount >= t.MaxRetries {
		m.log.Warnf("task %d (%s) failed permanently: %s", t.ID, t.TaskType, err)
		t.Status = store.TaskFailed
		t.ProcessedAt = m.clock.CurrentTimeMs()
	} else {
		m.log.Debugf("task %d (%s) failed, retry %d: %s", t.ID, t.TaskType, t.RetryCount, err)
		t.Status = store.TaskPending
		t.NextRetryAt = m.clock.CurrentTimeMs() + m.backoff(t.RetryCount)
	}
	if err := m.store.UpdateQueueTask(t); err != nil {
		m.log.Errorf("recording failure for task %d: %s", t.ID, err)
	}
}

func (m *Manager) dispatch(ctx context.Context, t *store.QueueTask) error {
	payload, err := DecodePayload(t.TaskType, t.Payload)
	if err != nil {
		return &Permanent{Err: err}
	}
	m.handlerLock.RLock()
	h, ok := m.handlers[TaskType(t.TaskType)]
	m.handlerLock.RUnlock()
	if !ok {
		return &Permanent{Err: fmt.Errorf("no handler for task type %s", t.TaskType)}
	}
	return h(ctx, t, payload)
}

// backoff doubles the base delay per prior attempt, capped at the
// configured maximum.
func (m *Manager) backoff(retryCount int) uint64 {
	delay := uint64(m.config.BaseRetryDelayMs)
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= uint64(m.config.MaxRetryDelayMs) {
			return uint64(m.config.MaxRetryDelayMs)
		}
	}
	if delay > uint64(m.config.MaxRetryDelayMs) {
		delay = uint64(m.config.MaxRetryDelayMs)
	}
	return delay
}
