package research

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/synapselabs/cortex/models"
	"github.com/synapselabs/cortex/types"
	"go.uber.org/zap"
)

// ModelKind selects the per-token memory estimate a reservation reports
// under (reporting only — it never affects the hard cap).
type ModelKind string

const (
	ModelKindGeneral    ModelKind = "general"
	ModelKindEmbedding  ModelKind = "embedding"
	ModelKindCode       ModelKind = "code"
	ModelKindMultimodal ModelKind = "multimodal"
)

// bytesPerToken is a piecewise memory estimate, used only for
// reporting.
var bytesPerToken = map[ModelKind]int64{
	ModelKindGeneral:    2 * 1024,
	ModelKindEmbedding:  1 * 1024,
	ModelKindCode:       3 * 1024,
	ModelKindMultimodal: 5 * 1024,
}

const defaultTokenCeiling = 500_000

// ModelKindForLogical maps a C2 logical model to the piecewise memory
// estimate bucket it reports under. Reporting only — it never changes what
// Reserve admits.
func ModelKindForLogical(model models.LogicalModel) ModelKind {
	switch model {
	case models.ModelChatCode:
		return ModelKindCode
	case models.ModelMultimodal:
		return ModelKindMultimodal
	case models.ModelEmbedding:
		return ModelKindEmbedding
	default:
		return ModelKindGeneral
	}
}

// ResourceMonitor is C9: enforces the token reservation ceiling (500k by default) and
// periodically samples usage, surfacing alerts at 80%/90% and updating a
// Prometheus gauge — the same promauto idiom the rest of this codebase's
// metrics collector uses.
type ResourceMonitor struct {
	logger *zap.Logger

	mu           sync.Mutex
	reservations map[string]reservation
	totalTokens  int64
	ceiling      int64

	monitorInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once

	usageGauge *prometheus.GaugeVec
	alertCount *prometheus.CounterVec
}

type reservation struct {
	tokens    int64
	modelKind ModelKind
}

// NewResourceMonitor builds C9 with the default 500,000-token ceiling.
// namespace is the Prometheus metric namespace; monitorInterval defaults
// to 5s.
func NewResourceMonitor(namespace string, monitorInterval time.Duration, logger *zap.Logger) *ResourceMonitor {
	return NewResourceMonitorWithCeiling(namespace, monitorInterval, 0, logger)
}

// NewResourceMonitorWithCeiling builds C9 with an explicit reservation
// ceiling. ceiling <= 0 falls back to the 500,000-token default.
func NewResourceMonitorWithCeiling(namespace string, monitorInterval time.Duration, ceiling int, logger *zap.Logger) *ResourceMonitor {
	if monitorInterval <= 0 {
		monitorInterval = 5 * time.Second
	}
	if ceiling <= 0 {
		ceiling = defaultTokenCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceMonitor{
		ceiling:         int64(ceiling),
		logger:          logger.With(zap.String("component", "resource_monitor")),
		reservations:    make(map[string]reservation),
		monitorInterval: monitorInterval,
		stopCh:          make(chan struct{}),
		usageGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_token_usage_ratio",
				Help:      "Fraction of the token reservation ceiling currently in use",
			},
			[]string{},
		),
		alertCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_alerts_total",
				Help:      "Count of resource usage alerts raised, by severity",
			},
			[]string{"severity"},
		),
	}
}

// Reserve attempts to reserve tokens under contextId. Returns ok=false
// (rejected) if the reservation would exceed the token ceiling.
func (m *ResourceMonitor) Reserve(contextID string, tokens int, modelKind ModelKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalTokens+int64(tokens) > m.ceiling {
		return false
	}
	if existing, ok := m.reservations[contextID]; ok {
		m.totalTokens -= existing.tokens
	}
	m.reservations[contextID] = reservation{tokens: int64(tokens), modelKind: modelKind}
	m.totalTokens += int64(tokens)
	return true
}

// Release frees the reservation held by contextId, if any.
func (m *ResourceMonitor) Release(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.reservations[contextID]; ok {
		m.totalTokens -= existing.tokens
		delete(m.reservations, contextID)
	}
}

// Snapshot returns the current outstanding usage.
func (m *ResourceMonitor) Snapshot() types.ContextUsage {
	m.mu.Lock()
	defer m.mu.Unlock()

	byContext := make(map[string]int, len(m.reservations))
	for id, r := range m.reservations {
		byContext[id] = int(r.tokens)
	}
	return types.ContextUsage{
		TotalTokens: int(m.totalTokens),
		Ceiling:     int(m.ceiling),
		ByContext:   byContext,
	}
}

// EstimatedMemoryBytes sums the piecewise per-kind memory estimate across
// outstanding reservations. Reporting only; never gates Reserve.
func (m *ResourceMonitor) EstimatedMemoryBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, r := range m.reservations {
		perToken, ok := bytesPerToken[r.modelKind]
		if !ok {
			perToken = bytesPerToken[ModelKindGeneral]
		}
		total += r.tokens * perToken
	}
	return total
}

// Start launches the periodic sampler. Call Stop to halt it.
func (m *ResourceMonitor) Start() {
	go m.runSampler()
}

// Stop halts the periodic sampler. Safe to call multiple times.
func (m *ResourceMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *ResourceMonitor) runSampler() {
	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.stopCh:
			return
		}
	}
}

func (m *ResourceMonitor) sample() {
	usage := m.Snapshot()
	ratio := float64(usage.TotalTokens) / float64(usage.Ceiling)
	m.usageGauge.WithLabelValues().Set(ratio)

	switch {
	case ratio >= 0.9:
		m.alertCount.WithLabelValues("critical").Inc()
		m.logger.Warn("resource usage critical", zap.Float64("ratio", ratio))
		runtime.GC()
	case ratio >= 0.8:
		m.alertCount.WithLabelValues("warning").Inc()
		m.logger.Info("resource usage elevated", zap.Float64("ratio", ratio))
	}
}
