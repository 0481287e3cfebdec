package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradelab/internal/ledger"
	"tradelab/internal/market"
	"tradelab/internal/metrics"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	activeTable   = "results_active"
	archivedTable = "results_archived"
)

// resultModel 是两张表共用的行结构，大字段存为 JSON 列。
type resultModel struct {
	Timestamp      int64          `gorm:"column:timestamp;primaryKey;autoIncrement:false"`
	Name           string         `gorm:"column:name;index"`
	Notes          string         `gorm:"column:notes"`
	Symbol         string         `gorm:"column:symbol;index"`
	InitialCapital float64        `gorm:"column:initial_capital"`
	FinalValue     float64        `gorm:"column:final_value"`
	ParamsJSON     datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	OrdersJSON     datatypes.JSON `gorm:"column:orders_json;type:TEXT"`
	MetricsJSON    datatypes.JSON `gorm:"column:metrics_json;type:TEXT"`
	CurveJSON      datatypes.JSON `gorm:"column:equity_curve_json;type:TEXT"`
	CandlesJSON    datatypes.JSON `gorm:"column:candles_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

// GormStore 用 gorm + sqlite 保存结果，活跃与归档分两张表，移动在事务内完成。
type GormStore struct {
	db  *gorm.DB
	now func() int64
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	for _, table := range []string{activeTable, archivedTable} {
		if err := db.Table(table).AutoMigrate(&resultModel{}); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", table, err)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &GormStore{db: db, now: nowID}, nil
}

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

func newResultModel(rec Record) (resultModel, error) {
	m := resultModel{
		Timestamp:      rec.Timestamp,
		Name:           rec.Name,
		Notes:          rec.Notes,
		Symbol:         rec.Symbol(),
		InitialCapital: rec.Equity.Initial,
		FinalValue:     rec.FinalValue,
	}
	var err error
	if m.ParamsJSON, err = json.Marshal(rec.Params); err != nil {
		return m, err
	}
	if m.OrdersJSON, err = json.Marshal(rec.Orders); err != nil {
		return m, err
	}
	if m.MetricsJSON, err = json.Marshal(rec.Metrics); err != nil {
		return m, err
	}
	if len(rec.EquityCurve) > 0 {
		if m.CurveJSON, err = json.Marshal(rec.EquityCurve); err != nil {
			return m, err
		}
	}
	if len(rec.Candles) > 0 {
		if m.CandlesJSON, err = json.Marshal(rec.Candles); err != nil {
			return m, err
		}
	}
	return m, nil
}

func (m resultModel) record(archived bool) (Record, error) {
	rec := Record{
		Timestamp:  m.Timestamp,
		Name:       m.Name,
		Notes:      m.Notes,
		Archived:   archived,
		FinalValue: m.FinalValue,
		Equity:     Equity{Initial: m.InitialCapital, Final: m.FinalValue},
	}
	decode := func(raw datatypes.JSON, dst any) error {
		if len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}
	var orders []ledger.ExecutedOrder
	var curve []ledger.EquityPoint
	var candles market.Series
	var mt metrics.Metrics
	for _, step := range []struct {
		raw datatypes.JSON
		dst any
	}{
		{m.ParamsJSON, &rec.Params},
		{m.OrdersJSON, &orders},
		{m.MetricsJSON, &mt},
		{m.CurveJSON, &curve},
		{m.CandlesJSON, &candles},
	} {
		if err := decode(step.raw, step.dst); err != nil {
			return Record{}, fmt.Errorf("decode result %d: %w", m.Timestamp, err)
		}
	}
	rec.Orders, rec.EquityCurve, rec.Candles, rec.Metrics = orders, curve, candles, mt
	return rec, nil
}

func tableFor(archived bool) string {
	if archived {
		return archivedTable
	}
	return activeTable
}

func (s *GormStore) Save(ctx context.Context, rec Record) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, fmt.Errorf("gorm store 未初始化")
	}
	rec = prepare(rec)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id := s.now()
		for {
			exists, err := s.exists(tx, id)
			if err != nil {
				return err
			}
			if !exists {
				break
			}
			id++
		}
		rec.Timestamp = id
		m, err := newResultModel(rec)
		if err != nil {
			return err
		}
		now := time.Now().Unix()
		m.CreatedAtUnix, m.UpdatedAtUnix = now, now
		return tx.Table(activeTable).Create(&m).Error
	})
	if err != nil {
		return Record{}, fmt.Errorf("save result: %w", err)
	}
	resultLog.Infof("保存结果 %d (%s)", rec.Timestamp, rec.Symbol())
	return rec, nil
}

func (s *GormStore) exists(tx *gorm.DB, id int64) (bool, error) {
	for _, table := range []string{activeTable, archivedTable} {
		var n int64
		if err := tx.Table(table).Where("timestamp = ?", id).Count(&n).Error; err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// find 依次查活跃表与归档表。
func (s *GormStore) find(tx *gorm.DB, id int64) (resultModel, bool, error) {
	for _, archived := range []bool{false, true} {
		var m resultModel
		err := tx.Table(tableFor(archived)).Where("timestamp = ?", id).Take(&m).Error
		if err == nil {
			return m, archived, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return m, false, err
		}
	}
	return resultModel{}, false, ErrNotFound
}

func (s *GormStore) Get(ctx context.Context, id int64) (Record, error) {
	m, archived, err := s.find(s.db.WithContext(ctx), id)
	if err != nil {
		return Record{}, err
	}
	return m.record(archived)
}

type keyRow struct {
	Timestamp      int64
	Name           string
	Symbol         string
	InitialCapital float64
	FinalValue     float64
}

func (s *GormStore) List(ctx context.Context, q ListQuery) ([]Record, int, error) {
	q = q.Normalize()
	db := s.db.WithContext(ctx)
	tables := []bool{false}
	if q.IncludeArchived {
		tables = append(tables, true)
	}
	var keys []sortKey
	for _, archived := range tables {
		var rows []keyRow
		err := db.Table(tableFor(archived)).
			Select("timestamp, name, symbol, initial_capital, final_value").
			Find(&rows).Error
		if err != nil {
			return nil, 0, err
		}
		for _, r := range rows {
			keys = append(keys, sortKey{
				Timestamp: r.Timestamp,
				Name:      r.Name,
				Symbol:    r.Symbol,
				Profit:    profitRatio(r.InitialCapital, r.FinalValue),
				Archived:  archived,
			})
		}
	}
	sortKeys(keys, q.SortBy, q.SortOrder)
	out := make([]Record, 0, q.PerPage)
	for _, k := range page(keys, q) {
		var m resultModel
		err := db.Table(tableFor(k.Archived)).Omit("candles_json").Where("timestamp = ?", k.Timestamp).Take(&m).Error
		if err != nil {
			return nil, 0, err
		}
		rec, err := m.record(k.Archived)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, len(keys), nil
}

func (s *GormStore) Update(ctx context.Context, id int64, name, notes *string) (Record, error) {
	db := s.db.WithContext(ctx)
	m, archived, err := s.find(db, id)
	if err != nil {
		return Record{}, err
	}
	updates := map[string]any{"updated_at": time.Now().Unix()}
	if name != nil {
		updates["name"] = *name
		m.Name = *name
	}
	if notes != nil {
		updates["notes"] = *notes
		m.Notes = *notes
	}
	if err := db.Table(tableFor(archived)).Where("timestamp = ?", id).Updates(updates).Error; err != nil {
		return Record{}, err
	}
	return m.record(archived)
}

func (s *GormStore) Archive(ctx context.Context, id int64) error {
	return s.move(ctx, id, false)
}

func (s *GormStore) Unarchive(ctx context.Context, id int64) error {
	return s.move(ctx, id, true)
}

// move 在一个事务里插入目标表并删除源表中的行。
func (s *GormStore) move(ctx context.Context, id int64, fromArchived bool) error {
	from, to := tableFor(fromArchived), tableFor(!fromArchived)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m resultModel
		if err := tx.Table(from).Where("timestamp = ?", id).Take(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		m.UpdatedAtUnix = time.Now().Unix()
		if err := tx.Table(to).Create(&m).Error; err != nil {
			return err
		}
		return tx.Table(from).Where("timestamp = ?", id).Delete(&resultModel{}).Error
	})
	if err != nil {
		return err
	}
	resultLog.Infof("结果 %d: %s → %s", id, from, to)
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id int64) error {
	db := s.db.WithContext(ctx)
	for _, table := range []string{activeTable, archivedTable} {
		res := db.Table(table).Where("timestamp = ?", id).Delete(&resultModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}
	return ErrNotFound
}

func (s *GormStore) DeleteAll(ctx context.Context) (int, error) {
	total := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{activeTable, archivedTable} {
			res := tx.Table(table).Where("1 = 1").Delete(&resultModel{})
			if res.Error != nil {
				return res.Error
			}
			total += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	resultLog.Infof("删除全部结果，共 %d 条", total)
	return total, nil
}
