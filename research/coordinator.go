package research

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrCoordinatorClosed is returned by Submit after Shutdown has begun.
var ErrCoordinatorClosed = errors.New("agent coordinator is shutting down")

// Task is one unit of sub-agent work submitted to the coordinator.
type Task struct {
	ID         string
	Priority   int
	Timeout    time.Duration
	Run        func(ctx context.Context) error
	OnComplete func(err error)
}

type queuedTask struct {
	task        Task
	enqueueTime time.Time
	index       int
}

// taskHeap orders by (-priority, enqueueTime) so higher priority runs first
// and ties break FIFO.
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].enqueueTime.Before(h[j].enqueueTime)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	qt := x.(*queuedTask)
	qt.index = len(*h)
	*h = append(*h, qt)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// CoordinatorConfig configures C8's adaptive pool.
type CoordinatorConfig struct {
	MinAgents            int
	MaxAgents            int
	ScaleUpUtilization   float64
	ScaleDownUtilization float64
	MonitorInterval      time.Duration
	// MetricsNamespace, when non-empty, registers pool-size/queue-depth
	// gauges under this Prometheus namespace and updates them from the scale
	// monitor. Left empty (the default) no collectors are registered, so
	// tests can construct as many coordinators as they like.
	MetricsNamespace string
}

// DefaultCoordinatorConfig returns the coordinator's default tuning.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MinAgents:            2,
		MaxAgents:            10,
		ScaleUpUtilization:   0.8,
		ScaleDownUtilization: 0.3,
		MonitorInterval:      5 * time.Second,
	}
}

type slotStats struct {
	id             int
	busy           bool
	removeRequested bool
	tasksCompleted int
	tasksFailed    int
	avgTaskSeconds float64
	lastActivity   time.Time
}

func (s *slotStats) efficiency() float64 {
	total := s.tasksCompleted + s.tasksFailed
	successRate := 1.0
	if total > 0 {
		successRate = float64(s.tasksCompleted) / float64(total)
	}
	speedScore := 1.0
	if s.avgTaskSeconds > 0 {
		speedScore = 10.0 / s.avgTaskSeconds
		if speedScore > 1 {
			speedScore = 1
		}
	}
	return 0.7*successRate + 0.3*speedScore
}

// Coordinator is C8: a bounded, adaptive pool of worker "agents" draining a
// priority queue, generalizing the goroutine-pool pattern used elsewhere in
// this codebase with utilization-based scale up/down heuristics.
type Coordinator struct {
	cfg    CoordinatorConfig
	logger *zap.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	queue      taskHeap
	slots      map[int]*slotStats
	nextSlotID int
	active     int
	closed     bool
	recentWait []time.Duration

	stopMonitor chan struct{}
	wg          sync.WaitGroup

	slotsGauge *prometheus.GaugeVec
	queueDepth prometheus.Gauge
}

// NewCoordinator builds C8 and starts MinAgents worker slots plus the scale
// monitor.
func NewCoordinator(cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if cfg.MinAgents <= 0 {
		cfg.MinAgents = 2
	}
	if cfg.MaxAgents < cfg.MinAgents {
		cfg.MaxAgents = cfg.MinAgents
	}
	if cfg.ScaleUpUtilization <= 0 {
		cfg.ScaleUpUtilization = 0.8
	}
	if cfg.ScaleDownUtilization <= 0 {
		cfg.ScaleDownUtilization = 0.3
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "agent_coordinator")),
		slots:       make(map[int]*slotStats),
		stopMonitor: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	if cfg.MetricsNamespace != "" {
		c.slotsGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.MetricsNamespace,
				Name:      "coordinator_slots",
				Help:      "Worker slots in the agent coordinator pool, by state",
			},
			[]string{"state"},
		)
		c.queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.MetricsNamespace,
			Name:      "coordinator_queue_depth",
			Help:      "Tasks waiting in the agent coordinator priority queue",
		})
	}

	for i := 0; i < cfg.MinAgents; i++ {
		c.spawnSlotLocked()
	}
	go c.monitor()
	return c
}

// Submit enqueues a task. Returns ErrCoordinatorClosed once Shutdown has
// begun.
func (c *Coordinator) Submit(t Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCoordinatorClosed
	}
	heap.Push(&c.queue, &queuedTask{task: t, enqueueTime: time.Now()})
	c.cond.Signal()
	return nil
}

// Shutdown stops accepting new tasks, waits up to drainTimeout for
// in-flight and queued tasks to finish, then returns (remaining workers keep
// running to completion; this call does not hard-cancel them — callers
// needing that should cancel a shared context passed into their Task.Run).
func (c *Coordinator) Shutdown(drainTimeout time.Duration) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.stopMonitor)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		c.logger.Warn("coordinator shutdown drain timeout exceeded")
	}

	c.mu.Lock()
	for _, s := range c.slots {
		s.removeRequested = true
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Coordinator) spawnSlotLocked() {
	id := c.nextSlotID
	c.nextSlotID++
	c.slots[id] = &slotStats{id: id, lastActivity: time.Now()}
	c.wg.Add(1)
	go c.workerLoop(id)
}

func (c *Coordinator) workerLoop(slotID int) {
	defer c.wg.Done()
	for {
		qt, ok := c.dequeue(slotID)
		if !ok {
			return
		}
		c.runTask(slotID, qt)
	}
}

// dequeue blocks until a task is available, the coordinator is closed with
// an empty queue, or this slot has been asked to shrink.
func (c *Coordinator) dequeue(slotID int) (*queuedTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if s, ok := c.slots[slotID]; !ok || s.removeRequested {
			delete(c.slots, slotID)
			return nil, false
		}
		if len(c.queue) > 0 {
			qt := heap.Pop(&c.queue).(*queuedTask)
			c.slots[slotID].busy = true
			c.active++
			c.recentWait = append(c.recentWait, time.Since(qt.enqueueTime))
			if len(c.recentWait) > 50 {
				c.recentWait = c.recentWait[len(c.recentWait)-50:]
			}
			return qt, true
		}
		if c.closed {
			delete(c.slots, slotID)
			return nil, false
		}
		c.cond.Wait()
	}
}

func (c *Coordinator) runTask(slotID int, qt *queuedTask) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if qt.task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, qt.task.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.New("panicked sub-agent task")
			}
		}()
		return qt.task.Run(ctx)
	}()
	elapsed := time.Since(start).Seconds()

	c.mu.Lock()
	if s, ok := c.slots[slotID]; ok {
		s.busy = false
		s.lastActivity = time.Now()
		if err != nil {
			s.tasksFailed++
		} else {
			s.tasksCompleted++
		}
		if s.avgTaskSeconds == 0 {
			s.avgTaskSeconds = elapsed
		} else {
			const alpha = 0.2
			s.avgTaskSeconds = alpha*elapsed + (1-alpha)*s.avgTaskSeconds
		}
	}
	c.active--
	c.mu.Unlock()

	if qt.task.OnComplete != nil {
		qt.task.OnComplete(err)
	}
}

func (c *Coordinator) monitor() {
	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evaluateScale()
			c.publishStats()
		case <-c.stopMonitor:
			return
		}
	}
}

// publishStats pushes the pool's current shape to the registered gauges.
func (c *Coordinator) publishStats() {
	if c.slotsGauge == nil {
		return
	}
	total, active, queued := c.Stats()
	c.slotsGauge.WithLabelValues("total").Set(float64(total))
	c.slotsGauge.WithLabelValues("active").Set(float64(active))
	c.queueDepth.Set(float64(queued))
}

func (c *Coordinator) evaluateScale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := len(c.slots)
	if total == 0 {
		return
	}
	utilization := float64(c.active) / float64(total)
	queueSize := len(c.queue)
	avgWait := c.averageWaitLocked()
	idleSlots := total - c.active

	if utilization >= c.cfg.ScaleUpUtilization && queueSize > 5 && avgWait > 2*time.Second && total < c.cfg.MaxAgents {
		c.spawnSlotLocked()
		c.logger.Info("scaled up agent pool", zap.Int("total", total+1))
		return
	}

	if utilization <= c.cfg.ScaleDownUtilization && queueSize < 2 && idleSlots > 2 && total > c.cfg.MinAgents {
		if victim := c.leastEfficientIdleSlotLocked(); victim != nil {
			victim.removeRequested = true
			c.cond.Broadcast()
			c.logger.Info("scaled down agent pool", zap.Int("slot", victim.id))
		}
	}
}

func (c *Coordinator) averageWaitLocked() time.Duration {
	if len(c.recentWait) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range c.recentWait {
		total += d
	}
	return total / time.Duration(len(c.recentWait))
}

func (c *Coordinator) leastEfficientIdleSlotLocked() *slotStats {
	var victim *slotStats
	for _, s := range c.slots {
		if s.busy || s.removeRequested {
			continue
		}
		if victim == nil || s.efficiency() < victim.efficiency() {
			victim = s
		}
	}
	return victim
}

// Stats reports the current pool size and utilization, for observability.
func (c *Coordinator) Stats() (total, active, queued int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots), c.active, len(c.queue)
}
