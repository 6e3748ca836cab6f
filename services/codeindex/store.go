package codeindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrUnknownDriver = errors.New("codeindex: unknown database driver")
	ErrNotFound      = errors.New("codeindex: code not found")
)

// Open connects to the index database. Supported drivers are "sqlite" and
// "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("codeindex: sqlite dsn required")
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("codeindex: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("codeindex: migrate: %w", err)
	}
	return db, nil
}

// Store persists issued and claimed codes.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// BatchRecord describes one generated batch.
type BatchRecord struct {
	Batch     string
	Sequence  uint64
	PartnerID string
	BatchInfo string
	Reward    string
	Hashes    []string
	IssuedAt  time.Time
}

// RecordBatch inserts every hash of the batch. Replays are ignored.
func (s *Store) RecordBatch(ctx context.Context, rec BatchRecord) error {
	if len(rec.Hashes) == 0 {
		return nil
	}
	issuedAt := rec.IssuedAt.UTC()
	rows := make([]IssuedCode, len(rec.Hashes))
	for i, hash := range rec.Hashes {
		rows[i] = IssuedCode{
			Hash:      strings.ToLower(hash),
			Batch:     rec.Batch,
			Sequence:  rec.Sequence,
			CodeIndex: uint32(i),
			PartnerID: rec.PartnerID,
			BatchInfo: rec.BatchInfo,
			Reward:    rec.Reward,
			Issued:    true,
			IssuedAt:  &issuedAt,
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			row := rows[i]
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "hash"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"batch":      row.Batch,
					"sequence":   row.Sequence,
					"code_index": row.CodeIndex,
					"partner_id": row.PartnerID,
					"batch_info": row.BatchInfo,
					"reward":     row.Reward,
					"issued":     true,
					"issued_at":  row.IssuedAt,
				}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkClaimed records a redemption. A row is created when the hash was never
// indexed as issued.
func (s *Store) MarkClaimed(ctx context.Context, hash, claimer, amount string, at time.Time) (issued bool, err error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	claimedAt := at.UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing IssuedCode
		res := tx.Where("hash = ?", hash).Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Create(&IssuedCode{
				Hash:      hash,
				Claimed:   true,
				Claimer:   claimer,
				Amount:    amount,
				ClaimedAt: &claimedAt,
			}).Error
		}
		issued = existing.Issued
		return tx.Model(&existing).Updates(map[string]interface{}{
			"claimed":    true,
			"claimer":    claimer,
			"amount":     amount,
			"claimed_at": &claimedAt,
		}).Error
	})
	return issued, err
}

// Lookup answers whether a code was issued and whether it was redeemed.
type Lookup struct {
	Hash      string     `json:"hash"`
	Issued    bool       `json:"issued"`
	Batch     string     `json:"batch,omitempty"`
	Sequence  uint64     `json:"sequence"`
	Index     uint32     `json:"index"`
	PartnerID string     `json:"partnerId,omitempty"`
	BatchInfo string     `json:"batchInfo,omitempty"`
	Reward    string     `json:"reward,omitempty"`
	Claimed   bool       `json:"claimed"`
	Claimer   string     `json:"claimer,omitempty"`
	ClaimedAt *time.Time `json:"claimedAt,omitempty"`
}

func lookupFrom(row IssuedCode) *Lookup {
	return &Lookup{
		Hash:      row.Hash,
		Issued:    row.Issued,
		Batch:     row.Batch,
		Sequence:  row.Sequence,
		Index:     row.CodeIndex,
		PartnerID: row.PartnerID,
		BatchInfo: row.BatchInfo,
		Reward:    row.Reward,
		Claimed:   row.Claimed,
		Claimer:   row.Claimer,
		ClaimedAt: row.ClaimedAt,
	}
}

// Lookup returns ErrNotFound when the hash was never observed.
func (s *Store) Lookup(ctx context.Context, hash string) (*Lookup, error) {
	var row IssuedCode
	res := s.db.WithContext(ctx).Where("hash = ?", strings.ToLower(strings.TrimSpace(hash))).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return lookupFrom(row), nil
}

// BatchCodes lists the codes of one batch ordered by index.
func (s *Store) BatchCodes(ctx context.Context, batch string) ([]*Lookup, error) {
	var rows []IssuedCode
	if err := s.db.WithContext(ctx).Where("batch = ? AND issued = ?", batch, true).Order("code_index asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Lookup, len(rows))
	for i := range rows {
		out[i] = lookupFrom(rows[i])
	}
	return out, nil
}
