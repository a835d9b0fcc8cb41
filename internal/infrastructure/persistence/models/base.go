package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/shared"
)

// BaseModel provides common persistence fields for all models.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// AggregateModel extends BaseModel with the optimistic locking version.
type AggregateModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

// LandlordAggregateModel is the persistence shape of a landlord-owned aggregate root.
type LandlordAggregateModel struct {
	AggregateModel
	LandlordID uuid.UUID `gorm:"type:uuid;not null;index"`
}

// FromDomainLandlordAggregateRoot populates the model from a domain aggregate root
func (m *LandlordAggregateModel) FromDomainLandlordAggregateRoot(a shared.LandlordAggregateRoot) {
	m.ID = a.ID
	m.CreatedAt = a.CreatedAt
	m.UpdatedAt = a.UpdatedAt
	m.Version = a.Version
	m.LandlordID = a.LandlordID
}

// ToLandlordAggregateRoot rebuilds the domain aggregate root. Pending domain
// events are never persisted, so the result has none.
func (m *LandlordAggregateModel) ToLandlordAggregateRoot() shared.LandlordAggregateRoot {
	return shared.LandlordAggregateRoot{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: shared.BaseEntity{
				ID:        m.ID,
				CreatedAt: m.CreatedAt,
				UpdatedAt: m.UpdatedAt,
			},
			Version: m.Version,
		},
		LandlordID: m.LandlordID,
	}
}
