package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/synapselabs/cortex/internal/database"
	"github.com/synapselabs/cortex/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// researchResultRecord is the GORM model backing ResultStore. The payload is
// a JSON blob rather than a column-per-field mirror of ResearchResult, so
// the schema doesn't have to migrate every time that type grows a field.
type researchResultRecord struct {
	PlanID    string `gorm:"primaryKey;column:plan_id"`
	Payload   []byte `gorm:"column:payload"`
	Status    string `gorm:"column:status;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (researchResultRecord) TableName() string { return "research_results" }

// ResultStore is the optional durable tier behind A4's ResultCache: a
// finished ResearchResult written here survives a process restart, so
// GET /v1/research/{planId} keeps answering after a redeploy instead of
// just returning 404 for everything the in-process LRU evicted.
type ResultStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewResultStore auto-migrates the backing table against pool's connection
// and returns a ResultStore bound to it. pool is expected to already be
// open; cmd/cortex wires it once from config.DatabaseConfig at startup.
func NewResultStore(pool *database.PoolManager, logger *zap.Logger) (*ResultStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().AutoMigrate(&researchResultRecord{}); err != nil {
		return nil, fmt.Errorf("migrate research_results: %w", err)
	}
	return &ResultStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "research_result_store")),
	}, nil
}

// Put upserts the result for planID.
func (s *ResultStore) Put(ctx context.Context, planID string, result *types.ResearchResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal research result: %w", err)
	}

	record := researchResultRecord{
		PlanID:    planID,
		Payload:   payload,
		Status:    string(result.Status),
		CreatedAt: result.CreatedAt,
		UpdatedAt: time.Now(),
	}
	if err := s.pool.DB().WithContext(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("save research result %s: %w", planID, err)
	}
	return nil
}

// Get loads the result for planID. ok is false when nothing was ever
// persisted for that id.
func (s *ResultStore) Get(ctx context.Context, planID string) (result *types.ResearchResult, ok bool, err error) {
	var record researchResultRecord
	err = s.pool.DB().WithContext(ctx).First(&record, "plan_id = ?", planID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load research result %s: %w", planID, err)
	}

	var parsed types.ResearchResult
	if err := json.Unmarshal(record.Payload, &parsed); err != nil {
		return nil, false, fmt.Errorf("unmarshal research result %s: %w", planID, err)
	}
	return &parsed, true, nil
}
