package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/ensembleflow/types"
	"github.com/BaSui01/ensembleflow/workflow"
)

// ErrHistoryNotFound 表示执行记录不存在
var ErrHistoryNotFound = errors.New("execution history not found")

const recordRetries = 3

// =============================================================================
// 📜 表结构
// =============================================================================

// ExecutionRecord 一次工作流运行
type ExecutionRecord struct {
	ID            string    `gorm:"primaryKey;size:36"`
	WorkflowName  string    `gorm:"size:200;not null;index:idx_workflow_start"`
	Status        string    `gorm:"size:20;not null;index"`
	StartTime     time.Time `gorm:"not null;index:idx_workflow_start"`
	EndTime       time.Time
	DurationNanos int64
	Error         string       `gorm:"type:text"`
	Nodes         []NodeRecord `gorm:"foreignKey:ExecutionID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (ExecutionRecord) TableName() string { return "workflow_executions" }

// NodeRecord 一次节点调度
type NodeRecord struct {
	ID            uint   `gorm:"primaryKey"`
	ExecutionID   string `gorm:"size:36;not null;index"`
	Seq           int    `gorm:"not null"`
	NodeName      string `gorm:"size:200;not null"`
	Model         string `gorm:"size:200;not null"`
	Version       string `gorm:"size:100"`
	Status        string `gorm:"size:20;not null"`
	StartTime     time.Time
	EndTime       time.Time
	DurationNanos int64
	PayloadSize   int
	Input         string `gorm:"type:text"`
	Error         string `gorm:"type:text"`
	ErrorCode     string `gorm:"size:50"`
}

// TableName 指定表名
func (NodeRecord) TableName() string { return "workflow_node_executions" }

// =============================================================================
// 🗃️ 执行历史仓库
// =============================================================================

// HistoryQuery 执行历史查询条件，零值字段不参与过滤
type HistoryQuery struct {
	WorkflowName string
	Status       workflow.ExecutionStatus
	Since        time.Time
	Until        time.Time
	Limit        int
}

// HistoryRepository 将 workflow.ExecutionHistory 持久化到 SQL 数据库，
// 实现 workflow.HistorySink
type HistoryRepository struct {
	pool   *PoolManager
	logger *zap.Logger
}

// NewHistoryRepository 创建执行历史仓库
func NewHistoryRepository(pool *PoolManager, logger *zap.Logger) *HistoryRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRepository{
		pool:   pool,
		logger: logger.With(zap.String("component", "history_repository")),
	}
}

// Migrate 创建或更新表结构
func (r *HistoryRepository) Migrate(ctx context.Context) error {
	if err := r.pool.DB().WithContext(ctx).AutoMigrate(&ExecutionRecord{}, &NodeRecord{}); err != nil {
		return fmt.Errorf("failed to migrate history tables: %w", err)
	}
	return nil
}

// Record 保存一次运行及其全部节点记录
func (r *HistoryRepository) Record(ctx context.Context, h *workflow.ExecutionHistory) error {
	rec, err := toRecord(h)
	if err != nil {
		return err
	}

	err = r.pool.WithTransactionRetry(ctx, recordRetries, func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record execution %s: %w", h.ExecutionID, err)
	}

	r.logger.Debug("execution recorded",
		zap.String("execution_id", rec.ID),
		zap.String("workflow", rec.WorkflowName),
		zap.String("status", rec.Status),
		zap.Int("nodes", len(rec.Nodes)),
	)
	return nil
}

// Get 按执行 ID 读取运行记录
func (r *HistoryRepository) Get(ctx context.Context, executionID string) (*workflow.ExecutionHistory, error) {
	var rec ExecutionRecord
	err := r.pool.DB().WithContext(ctx).
		Preload("Nodes", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		First(&rec, "id = ?", executionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrHistoryNotFound, executionID)
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// List 按开始时间倒序返回符合条件的运行记录
func (r *HistoryRepository) List(ctx context.Context, q HistoryQuery) ([]*workflow.ExecutionHistory, error) {
	db := r.pool.DB().WithContext(ctx).
		Preload("Nodes", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Order("start_time DESC")

	if q.WorkflowName != "" {
		db = db.Where("workflow_name = ?", q.WorkflowName)
	}
	if q.Status != "" {
		db = db.Where("status = ?", string(q.Status))
	}
	if !q.Since.IsZero() {
		db = db.Where("start_time >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		db = db.Where("start_time <= ?", q.Until)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	var recs []ExecutionRecord
	if err := db.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]*workflow.ExecutionHistory, 0, len(recs))
	for i := range recs {
		h, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// =============================================================================
// 🔧 转换
// =============================================================================

func toRecord(h *workflow.ExecutionHistory) (*ExecutionRecord, error) {
	nodes := h.GetNodes()
	rec := &ExecutionRecord{
		ID:            h.ExecutionID,
		WorkflowName:  h.WorkflowName,
		Status:        string(h.GetStatus()),
		StartTime:     h.StartTime,
		EndTime:       h.EndTime,
		DurationNanos: int64(h.Duration),
		Error:         h.Error,
		Nodes:         make([]NodeRecord, 0, len(nodes)),
	}

	for i, n := range nodes {
		var input string
		if n.Input != nil {
			data, err := json.Marshal(n.Input)
			if err != nil {
				return nil, fmt.Errorf("failed to encode input of node %s: %w", n.NodeName, err)
			}
			input = string(data)
		}
		rec.Nodes = append(rec.Nodes, NodeRecord{
			ExecutionID:   h.ExecutionID,
			Seq:           i,
			NodeName:      n.NodeName,
			Model:         n.Service.Model,
			Version:       n.Service.Version,
			Status:        string(n.Status),
			StartTime:     n.StartTime,
			EndTime:       n.EndTime,
			DurationNanos: int64(n.Duration),
			PayloadSize:   n.PayloadSize,
			Input:         input,
			Error:         n.Error,
			ErrorCode:     string(n.ErrorCode),
		})
	}
	return rec, nil
}

func fromRecord(rec *ExecutionRecord) (*workflow.ExecutionHistory, error) {
	h := &workflow.ExecutionHistory{
		ExecutionID:  rec.ID,
		WorkflowName: rec.WorkflowName,
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		Duration:     time.Duration(rec.DurationNanos),
		Status:       workflow.ExecutionStatus(rec.Status),
		Error:        rec.Error,
		Nodes:        make([]*workflow.NodeExecution, 0, len(rec.Nodes)),
	}

	for _, n := range rec.Nodes {
		var input *types.Request
		if n.Input != "" {
			input = &types.Request{}
			if err := json.Unmarshal([]byte(n.Input), input); err != nil {
				return nil, fmt.Errorf("failed to decode input of node %s: %w", n.NodeName, err)
			}
		}
		h.Nodes = append(h.Nodes, &workflow.NodeExecution{
			NodeName:    n.NodeName,
			Service:     workflow.ServiceRef{Model: n.Model, Version: n.Version},
			StartTime:   n.StartTime,
			EndTime:     n.EndTime,
			Duration:    time.Duration(n.DurationNanos),
			Status:      workflow.ExecutionStatus(n.Status),
			Input:       input,
			PayloadSize: n.PayloadSize,
			Error:       n.Error,
			ErrorCode:   types.ErrorCode(n.ErrorCode),
		})
	}
	return h, nil
}
