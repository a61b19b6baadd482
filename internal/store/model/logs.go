package model

import "gorm.io/datatypes"

// HistoryModel maps to the 'ledger_history' table: one row per status change.
type HistoryModel struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement"`
	EntityType string         `gorm:"column:entity_type"`
	EntityID   string         `gorm:"column:entity_id;index"`
	FromStatus string         `gorm:"column:from_status"`
	ToStatus   string         `gorm:"column:to_status"`
	Version    int64          `gorm:"column:version"`
	Detail     datatypes.JSON `gorm:"column:detail;type:TEXT"`
	Timestamp  int64          `gorm:"column:timestamp"`
}

func (HistoryModel) TableName() string { return "ledger_history" }
