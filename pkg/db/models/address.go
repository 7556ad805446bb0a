package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Address is a delivery destination owned by a user. CEP is stored
// digits-only, eight characters.
type Address struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	Label      *string   `gorm:"column:label"`
	Street     string    `gorm:"column:street;not null"`
	Number     string    `gorm:"column:number;not null"`
	Complement *string   `gorm:"column:complement"`
	District   string    `gorm:"column:district;not null"`
	City       string    `gorm:"column:city;not null"`
	State      string    `gorm:"column:state;not null"`
	CEP        string    `gorm:"column:cep;type:varchar(8);not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Address) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
