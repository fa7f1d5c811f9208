package models

import (
	"time"

	"github.com/oarkflow/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncState is per-(table, symbol) incremental-sync bookkeeping: the newest
// trade date known to be stored, and when it was last confirmed.
type SyncState struct {
	ID        int    `json:"-"`
	Table     string `json:"table_name" gorm:"column:table_name;index:idx_sync_table_code,unique"`
	TsCode    string `json:"ts_code" gorm:"index:idx_sync_table_code,unique"`
	LastDate  string `json:"last_date"`
	SyncedAt  int64  `json:"synced_at"`
}

// TableName maps the model to its table
func (SyncState) TableName() string { return "sync_state" }

// GetSyncState returns the stored state for (table, tsCode), or nil when the
// pair has never been synced.
func GetSyncState(table, tsCode string) (*SyncState, error) {
	var st SyncState
	err := DB.Where("table_name = ? AND ts_code = ?", table, tsCode).First(&st).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewE(err, "load sync state", "")
	}
	return &st, nil
}

// MarkSynced records that (table, tsCode) is stored through lastDate.
func MarkSynced(table, tsCode, lastDate string) error {
	st := SyncState{
		Table:     table,
		TsCode:    tsCode,
		LastDate:  lastDate,
		SyncedAt:  time.Now().Unix(),
	}
	if err := DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "table_name"}, {Name: "ts_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_date", "synced_at"}),
	}).Create(&st).Error; err != nil {
		return errors.NewE(err, "mark sync state", "")
	}
	return nil
}
