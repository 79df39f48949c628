package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ConversationModel struct {
	ID               string `gorm:"primaryKey"`
	Position         int    `gorm:"not null;index"`
	Title            string `gorm:"not null"`
	Config           datatypes.JSON
	Messages         datatypes.JSON
	Files            datatypes.JSON
	GeneratedOutputs datatypes.JSON
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null;index"`
}

func (ConversationModel) TableName() string {
	return "conversations"
}
