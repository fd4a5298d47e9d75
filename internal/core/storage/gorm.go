package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coinpilot/tradecore/internal/core/model"
)

// openStatuses are the order statuses considered live.
var openStatuses = []model.OrderStatus{
	model.OrderStatusNew,
	model.OrderStatusPending,
	model.OrderStatusSubmitted,
	model.OrderStatusPartiallyFilled,
}

// OpenDB opens a GORM connection for the configured driver ("sqlite" or
// "postgres") and migrates the control-plane tables.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if err := db.AutoMigrate(
		&model.Order{},
		&model.AutoOrder{},
		&model.Position{},
		&model.RiskConfig{},
		&model.RiskAlert{},
		&model.ExecutionResult{},
		&model.StopRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

// GormStore implements Store on GORM with an optional redis read-through
// cache for hot order lookups. When redis is unreachable the store runs
// without a cache.
type GormStore struct {
	db       *gorm.DB
	logger   *zap.Logger
	cache    *redis.Client
	cacheTTL time.Duration
}

var _ Store = (*GormStore)(nil)

// NewGormStore builds a GormStore. redisAddr may be empty to disable
// caching entirely.
func NewGormStore(db *gorm.DB, logger *zap.Logger, redisAddr string) *GormStore {
	var cache *redis.Client
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not available, proceeding without order cache", zap.Error(err))
		} else {
			cache = rdb
			logger.Info("redis order cache initialized")
		}
	}
	return &GormStore{db: db, logger: logger, cache: cache, cacheTTL: 30 * time.Second}
}

func (s *GormStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrNotFound
	}
	return fmt.Errorf("%w: %s: %v", model.ErrPersistence, op, err)
}

func orderCacheKey(id uuid.UUID) string { return "tradecore:order:" + id.String() }

func (s *GormStore) cacheOrder(ctx context.Context, o *model.Order) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, orderCacheKey(o.ID), raw, s.cacheTTL).Err(); err != nil {
		s.logger.Debug("order cache write failed", zap.Error(err))
	}
}

func (s *GormStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return s.wrap("create order", err)
	}
	s.cacheOrder(ctx, o)
	return nil
}

func (s *GormStore) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, orderCacheKey(id)).Bytes(); err == nil {
			var o model.Order
			if json.Unmarshal(raw, &o) == nil {
				return &o, nil
			}
		}
	}
	var o model.Order
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, s.wrap("get order", err)
	}
	s.cacheOrder(ctx, &o)
	return &o, nil
}

func (s *GormStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	res := s.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", o.ID).Updates(o)
	if res.Error != nil {
		return s.wrap("update order", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	s.cacheOrder(ctx, o)
	return nil
}

func (s *GormStore) ListOpenOrders(ctx context.Context, f OrderFilter) ([]*model.Order, error) {
	q := s.db.WithContext(ctx).Where("status IN ?", openStatuses)
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.AccountID != "" {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.StrategyName != "" {
		q = q.Where("strategy_name = ?", f.StrategyName)
	}
	var out []*model.Order
	if err := q.Find(&out).Error; err != nil {
		return nil, s.wrap("list open orders", err)
	}
	return out, nil
}

func (s *GormStore) CreateAutoOrder(ctx context.Context, a *model.AutoOrder) error {
	return s.wrap("create auto order", s.db.WithContext(ctx).Create(a).Error)
}

func (s *GormStore) GetAutoOrder(ctx context.Context, id uuid.UUID) (*model.AutoOrder, error) {
	var a model.AutoOrder
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, s.wrap("get auto order", err)
	}
	return &a, nil
}

func (s *GormStore) UpdateAutoOrder(ctx context.Context, a *model.AutoOrder) error {
	res := s.db.WithContext(ctx).Model(&model.AutoOrder{}).Where("id = ?", a.ID).
		Select("*").Omit("id", "created_at").Updates(a)
	if res.Error != nil {
		return s.wrap("update auto order", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *GormStore) ListActiveAutoOrders(ctx context.Context, f OrderFilter) ([]*model.AutoOrder, error) {
	q := s.db.WithContext(ctx).Where("is_active = ?", true)
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.AccountID != "" {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.StrategyName != "" {
		q = q.Where("strategy_name = ?", f.StrategyName)
	}
	var out []*model.AutoOrder
	if err := q.Find(&out).Error; err != nil {
		return nil, s.wrap("list active auto orders", err)
	}
	return out, nil
}

func (s *GormStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	var p model.Position
	err := s.db.WithContext(ctx).Where("account_id = ? AND symbol = ?", accountID, symbol).First(&p).Error
	if err != nil {
		return nil, s.wrap("get position", err)
	}
	return &p, nil
}

func (s *GormStore) GetPositionByID(ctx context.Context, id uuid.UUID) (*model.Position, error) {
	var p model.Position
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, s.wrap("get position by id", err)
	}
	return &p, nil
}

func (s *GormStore) SavePosition(ctx context.Context, p *model.Position) error {
	return s.wrap("save position", s.db.WithContext(ctx).Save(p).Error)
}

func (s *GormStore) ListActivePositions(ctx context.Context, accountID string) ([]*model.Position, error) {
	q := s.db.WithContext(ctx).Where("is_active = ?", true)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var out []*model.Position
	if err := q.Find(&out).Error; err != nil {
		return nil, s.wrap("list active positions", err)
	}
	return out, nil
}

func (s *GormStore) GetRiskConfig(ctx context.Context, userID, accountID string) (*model.RiskConfig, error) {
	var c model.RiskConfig
	err := s.db.WithContext(ctx).Where("user_id = ? AND account_id = ?", userID, accountID).First(&c).Error
	if err != nil {
		return nil, s.wrap("get risk config", err)
	}
	return &c, nil
}

func (s *GormStore) SaveRiskConfig(ctx context.Context, c *model.RiskConfig) error {
	return s.wrap("save risk config", s.db.WithContext(ctx).Save(c).Error)
}

func (s *GormStore) CreateRiskAlert(ctx context.Context, a *model.RiskAlert) error {
	return s.wrap("create risk alert", s.db.WithContext(ctx).Create(a).Error)
}

func (s *GormStore) CountTradesSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.ExecutionResult{}).
		Where("account_id = ? AND success = ? AND created_at >= ?", accountID, true, since).
		Count(&n).Error
	if err != nil {
		return 0, s.wrap("count trades", err)
	}
	return int(n), nil
}

func (s *GormStore) SumTradedVolumeSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	var rows []*model.ExecutionResult
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND success = ? AND created_at >= ?", accountID, true, since).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, s.wrap("sum traded volume", err)
	}
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.FilledQuantity.Mul(r.AveragePrice))
	}
	return sum, nil
}

func (s *GormStore) RecordExecution(ctx context.Context, r *model.ExecutionResult) error {
	return s.wrap("record execution", s.db.WithContext(ctx).Create(r).Error)
}

func (s *GormStore) ListExecutions(ctx context.Context, orderID uuid.UUID) ([]*model.ExecutionResult, error) {
	var out []*model.ExecutionResult
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at asc").Find(&out).Error
	if err != nil {
		return nil, s.wrap("list executions", err)
	}
	return out, nil
}

func (s *GormStore) CreateStopRecord(ctx context.Context, r *model.StopRecord) error {
	return s.wrap("create stop record", s.db.WithContext(ctx).Create(r).Error)
}

func (s *GormStore) UpdateStopRecord(ctx context.Context, r *model.StopRecord) error {
	res := s.db.WithContext(ctx).Model(&model.StopRecord{}).Where("id = ?", r.ID).
		Select("*").Omit("id").Updates(r)
	if res.Error != nil {
		return s.wrap("update stop record", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *GormStore) ListActiveStopRecords(ctx context.Context) ([]*model.StopRecord, error) {
	var out []*model.StopRecord
	err := s.db.WithContext(ctx).Where("status = ?", model.StopStatusActive).Find(&out).Error
	if err != nil {
		return nil, s.wrap("list active stop records", err)
	}
	return out, nil
}

func (s *GormStore) ListStopRecords(ctx context.Context, limit int) ([]*model.StopRecord, error) {
	q := s.db.WithContext(ctx).Order("triggered_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*model.StopRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, s.wrap("list stop records", err)
	}
	return out, nil
}
