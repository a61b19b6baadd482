package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	applog "cryptotrader/internal/logger"
	"cryptotrader/internal/store"
	storemodel "cryptotrader/internal/store/model"
	"cryptotrader/internal/trading"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type orderModel = storemodel.OrderModel
type positionModel = storemodel.PositionModel
type historyModel = storemodel.HistoryModel

// casAttempts bounds how often a lost version race is retried before the
// update reports store.ErrConflict.
const casAttempts = 3

var errStale = errors.New("stale version")

// GormStore implements store.Ledger using Gorm + SQLite.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.Ledger = (*GormStore)(nil)

// NewGormStore opens (creating if needed) the ledger database at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: ledger path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&orderModel{}, &positionModel{}, &historyModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	return s.db.DB()
}

// --------------------- Orders -------------------------

func (s *GormStore) InsertOrder(ctx context.Context, o trading.Order) (trading.Order, error) {
	if strings.TrimSpace(o.ID) == "" {
		return trading.Order{}, fmt.Errorf("gorm store: order id is required")
	}
	now := s.now()
	if o.PlacedAt.IsZero() {
		o.PlacedAt = now
	}
	o.Version = 1
	o.UpdatedAt = now
	m := newOrderModel(o)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&m).Error; err != nil {
			return translate(err)
		}
		return tx.Create(newHistory(store.EntityOrder, o.ID, "", string(o.Status), o.Version, orderDetail(o), now)).Error
	})
	if err != nil {
		return trading.Order{}, err
	}
	return orderFromModel(m), nil
}

func (s *GormStore) GetOrder(ctx context.Context, id string) (trading.Order, error) {
	var m orderModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		return trading.Order{}, translate(err)
	}
	return orderFromModel(m), nil
}

func (s *GormStore) GetOrderByExchangeID(ctx context.Context, exchangeID string) (trading.Order, error) {
	exchangeID = strings.TrimSpace(exchangeID)
	if exchangeID == "" {
		return trading.Order{}, store.ErrNotFound
	}
	var m orderModel
	if err := s.db.WithContext(ctx).Where("exchange_id = ?", exchangeID).Take(&m).Error; err != nil {
		return trading.Order{}, translate(err)
	}
	return orderFromModel(m), nil
}

func (s *GormStore) ListOrders(ctx context.Context, f store.OrderFilter) ([]trading.Order, error) {
	q := s.db.WithContext(ctx).Model(&orderModel{})
	if f.PositionID != "" {
		q = q.Where("position_id = ?", f.PositionID)
	}
	if f.Pair != "" {
		q = q.Where("pair = ?", f.Pair)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.Simulated != nil {
		q = q.Where("is_simulated = ?", *f.Simulated)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var models []orderModel
	if err := q.Order("placed_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]trading.Order, 0, len(models))
	for _, m := range models {
		out = append(out, orderFromModel(m))
	}
	return out, nil
}

// UpdateOrder reads the order, applies mutate and writes it back guarded by
// the version it read.
func (s *GormStore) UpdateOrder(ctx context.Context, id string, mutate func(*trading.Order) error) (trading.Order, error) {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		current, err := s.GetOrder(ctx, id)
		if err != nil {
			return trading.Order{}, err
		}
		next := current
		if err := mutate(&next); err != nil {
			return trading.Order{}, err
		}
		now := s.now()
		next.ID = current.ID
		next.Version = current.Version + 1
		next.UpdatedAt = now
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&orderModel{}).
				Where("id = ? AND version = ?", id, current.Version).
				Updates(orderColumns(newOrderModel(next)))
			if res.Error != nil {
				return translate(res.Error)
			}
			if res.RowsAffected == 0 {
				return errStale
			}
			if current.Status == next.Status {
				return nil
			}
			return tx.Create(newHistory(store.EntityOrder, id, string(current.Status), string(next.Status), next.Version, orderDetail(next), now)).Error
		})
		if errors.Is(err, errStale) {
			applog.Debugf("GormStore: order %s version %d lost race (attempt %d)", id, current.Version, attempt)
			continue
		}
		if err != nil {
			return trading.Order{}, err
		}
		return next, nil
	}
	return trading.Order{}, fmt.Errorf("%w: order %s", store.ErrConflict, id)
}

// --------------------- Positions -------------------------

func (s *GormStore) InsertPosition(ctx context.Context, p trading.Position) (trading.Position, error) {
	if strings.TrimSpace(p.ID) == "" {
		return trading.Position{}, fmt.Errorf("gorm store: position id is required")
	}
	now := s.now()
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	p.Version = 1
	p.UpdatedAt = now
	m := newPositionModel(p)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&m).Error; err != nil {
			return translate(err)
		}
		return tx.Create(newHistory(store.EntityPosition, p.ID, "", string(p.Status), p.Version, positionDetail(p), now)).Error
	})
	if err != nil {
		return trading.Position{}, err
	}
	return positionFromModel(m), nil
}

func (s *GormStore) GetPosition(ctx context.Context, id string) (trading.Position, error) {
	var m positionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		return trading.Position{}, translate(err)
	}
	return positionFromModel(m), nil
}

func (s *GormStore) ListPositions(ctx context.Context, f store.PositionFilter) ([]trading.Position, error) {
	q := s.db.WithContext(ctx).Model(&positionModel{})
	if f.Pair != "" {
		q = q.Where("pair = ?", f.Pair)
	}
	if f.StrategyID != "" {
		q = q.Where("strategy_id = ?", f.StrategyID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var models []positionModel
	if err := q.Order("opened_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]trading.Position, 0, len(models))
	for _, m := range models {
		out = append(out, positionFromModel(m))
	}
	return out, nil
}

func (s *GormStore) UpdatePosition(ctx context.Context, id string, mutate func(*trading.Position) error) (trading.Position, error) {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		current, err := s.GetPosition(ctx, id)
		if err != nil {
			return trading.Position{}, err
		}
		next := current
		if err := mutate(&next); err != nil {
			return trading.Position{}, err
		}
		now := s.now()
		next.ID = current.ID
		next.Version = current.Version + 1
		next.UpdatedAt = now
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&positionModel{}).
				Where("id = ? AND version = ?", id, current.Version).
				Updates(positionColumns(newPositionModel(next)))
			if res.Error != nil {
				return translate(res.Error)
			}
			if res.RowsAffected == 0 {
				return errStale
			}
			if current.Status == next.Status {
				return nil
			}
			return tx.Create(newHistory(store.EntityPosition, id, string(current.Status), string(next.Status), next.Version, positionDetail(next), now)).Error
		})
		if errors.Is(err, errStale) {
			applog.Debugf("GormStore: position %s version %d lost race (attempt %d)", id, current.Version, attempt)
			continue
		}
		if err != nil {
			return trading.Position{}, err
		}
		return next, nil
	}
	return trading.Position{}, fmt.Errorf("%w: position %s", store.ErrConflict, id)
}

// --------------------- History -------------------------

func (s *GormStore) History(ctx context.Context, entityID string, limit int) ([]store.HistoryRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []historyModel
	err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.HistoryRecord, 0, len(models))
	for _, m := range models {
		out = append(out, store.HistoryRecord{
			ID:         m.ID,
			EntityType: m.EntityType,
			EntityID:   m.EntityID,
			FromStatus: m.FromStatus,
			ToStatus:   m.ToStatus,
			Version:    m.Version,
			Detail:     []byte(m.Detail),
			At:         time.UnixMilli(m.Timestamp),
		})
	}
	return out, nil
}

func newHistory(entity, id, from, to string, version int64, detail map[string]any, at time.Time) *historyModel {
	var raw datatypes.JSON
	if len(detail) > 0 {
		if b, err := json.Marshal(detail); err == nil {
			raw = datatypes.JSON(b)
		}
	}
	return &historyModel{
		EntityType: entity,
		EntityID:   id,
		FromStatus: from,
		ToStatus:   to,
		Version:    version,
		Detail:     raw,
		Timestamp:  at.UnixMilli(),
	}
}

func orderDetail(o trading.Order) map[string]any {
	d := map[string]any{}
	if o.ExchangeID != "" {
		d["exchange_id"] = o.ExchangeID
	}
	if o.FilledQty > 0 {
		d["filled_qty"] = o.FilledQty
		d["avg_fill_price"] = o.AvgFillPrice
	}
	if o.Error != "" {
		d["error"] = o.Error
	}
	return d
}

func positionDetail(p trading.Position) map[string]any {
	d := map[string]any{}
	if p.CloseReason != "" {
		d["reason"] = string(p.CloseReason)
		d["exit_price"] = p.ExitPrice
		d["realized_pnl"] = p.RealizedPnL
	}
	return d
}

// translate maps driver errors onto the ledger's sentinel errors. The pure-Go
// driver's errors are not translated by gorm, so unique violations are also
// recognised by message.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(err.Error(), "UNIQUE constraint failed"),
		strings.Contains(err.Error(), "PRIMARY KEY"):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	default:
		return err
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
