package codeindex

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IssuedCode is one reward code observed by the indexer. Issued is false for
// rows created by a claim whose hash was never seen in a generated batch.
type IssuedCode struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Hash      string    `gorm:"size:64;uniqueIndex;not null"`
	Batch     string    `gorm:"size:96;index"`
	Sequence  uint64    `gorm:"index"`
	CodeIndex uint32
	PartnerID string `gorm:"size:64;index"`
	BatchInfo string `gorm:"size:256"`
	Reward    string `gorm:"size:78"`
	Issued    bool   `gorm:"not null;default:false"`
	IssuedAt  *time.Time
	Claimed   bool   `gorm:"not null;default:false;index"`
	Claimer   string `gorm:"size:96"`
	Amount    string `gorm:"size:78"`
	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (IssuedCode) TableName() string { return "issued_codes" }

// BeforeCreate assigns a random identifier when none is set.
func (c *IssuedCode) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// AutoMigrate performs all schema migrations for the index.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&IssuedCode{})
}
