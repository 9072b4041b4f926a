package store

import "time"

// SlotModel is the GORM row for one storage slot.
type SlotModel struct {
	Namespace string    `gorm:"primaryKey;size:128"`
	Key       string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (SlotModel) TableName() string { return "client_slots" }
