package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"paddlearena/broker/internal/leaderboard"
	"paddlearena/broker/internal/logging"
	"paddlearena/broker/internal/match"
)

// matchRow is the persisted shape of a match document. The full record lives
// in the JSON document column; the scalar columns exist for querying.
type matchRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	SlotA     string `gorm:"column:slot_a;size:128;index"`
	SlotB     string `gorm:"column:slot_b;size:128;index"`
	Phase     string `gorm:"size:16;index"`
	Winner    string `gorm:"size:8"`
	Revision  int64
	Document  []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (matchRow) TableName() string { return "matches" }

type aggregateRow struct {
	Identity  string `gorm:"primaryKey;size:128"`
	Document  []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (aggregateRow) TableName() string { return "leaderboard_aggregates" }

// Postgres is the durable Store backed by a Postgres document table via GORM.
type Postgres struct {
	db  *gorm.DB
	log *logging.Logger
}

// NewPostgres opens the database, runs migrations and returns the gateway.
func NewPostgres(dsn string, logger *logging.Logger) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn must not be empty")
	}
	if logger == nil {
		logger = logging.L()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&matchRow{}, &aggregateRow{}); err != nil {
		return nil, err
	}
	return &Postgres{db: db, log: logger}, nil
}

// SaveMatch upserts the match document. The ON CONFLICT update is guarded by
// the stored revision so a late checkpoint can never overwrite newer state.
func (p *Postgres) SaveMatch(ctx context.Context, record *match.Record) error {
	if p == nil || p.db == nil {
		return errors.New("postgres store not configured")
	}
	if record == nil || strings.TrimSpace(record.ID) == "" {
		return ErrNotFound
	}
	document, err := json.Marshal(record)
	if err != nil {
		return err
	}
	row := matchRow{
		ID:        record.ID,
		SlotA:     record.SlotA,
		SlotB:     record.SlotB,
		Phase:     string(record.Phase),
		Winner:    string(record.Winner),
		Revision:  record.Revision,
		Document:  document,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	//1.- Upsert with the revision guard expressed in the conflict clause itself.
	result := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"slot_a", "slot_b", "phase", "winner", "revision", "document", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lt{Column: clause.Column{Table: "matches", Name: "revision"}, Value: record.Revision},
		}},
	}).Create(&row)
	if result.Error != nil {
		return result.Error
	}
	//2.- Zero affected rows means the guard blocked a stale write.
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// FindMatch loads one match document by id.
func (p *Postgres) FindMatch(ctx context.Context, id string) (*match.Record, error) {
	if p == nil || p.db == nil {
		return nil, errors.New("postgres store not configured")
	}
	var row matchRow
	err := p.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeMatch(row.Document)
}

// FindMatchesByParticipant lists a participant's matches, newest first.
func (p *Postgres) FindMatchesByParticipant(ctx context.Context, identity string, finishedOnly bool) ([]*match.Record, error) {
	if p == nil || p.db == nil {
		return nil, errors.New("postgres store not configured")
	}
	query := p.db.WithContext(ctx).
		Where("slot_a = ? OR slot_b = ?", identity, identity).
		Order("created_at DESC")
	if finishedOnly {
		query = query.Where("phase = ?", string(match.PhaseFinished))
	}
	var rows []matchRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]*match.Record, 0, len(rows))
	for _, row := range rows {
		record, err := decodeMatch(row.Document)
		if err != nil {
			p.log.Warn("skipping undecodable match document",
				logging.String("match_id", row.ID), logging.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// DeleteMatch removes a match document permanently.
func (p *Postgres) DeleteMatch(ctx context.Context, id string) error {
	if p == nil || p.db == nil {
		return errors.New("postgres store not configured")
	}
	result := p.db.WithContext(ctx).Delete(&matchRow{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadAggregate fetches an identity's aggregate, (nil, nil) when absent.
func (p *Postgres) LoadAggregate(ctx context.Context, identity string) (*leaderboard.Aggregate, error) {
	if p == nil || p.db == nil {
		return nil, errors.New("postgres store not configured")
	}
	var row aggregateRow
	err := p.db.WithContext(ctx).First(&row, "identity = ?", identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var aggregate leaderboard.Aggregate
	if err := json.Unmarshal(row.Document, &aggregate); err != nil {
		return nil, err
	}
	return &aggregate, nil
}

// SaveAggregate upserts an identity's aggregate document.
func (p *Postgres) SaveAggregate(ctx context.Context, aggregate *leaderboard.Aggregate) error {
	if p == nil || p.db == nil {
		return errors.New("postgres store not configured")
	}
	if aggregate == nil || strings.TrimSpace(aggregate.Identity) == "" {
		return ErrNotFound
	}
	document, err := json.Marshal(aggregate)
	if err != nil {
		return err
	}
	row := aggregateRow{
		Identity:  aggregate.Identity,
		Document:  document,
		UpdatedAt: time.Now().UTC(),
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(&row).Error
}

func decodeMatch(document []byte) (*match.Record, error) {
	var record match.Record
	if err := json.Unmarshal(document, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
