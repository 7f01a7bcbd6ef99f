package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent records who changed what in the publishing pipeline.
type AuditEvent struct {
	ID        uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Event     string         `gorm:"column:event;size:64;not null;index" json:"event"`
	Actor     string         `gorm:"column:actor;size:191" json:"actor"`
	Subject   string         `gorm:"column:subject;size:191;index" json:"subject"`
	Payload   datatypes.JSON `gorm:"column:payload" json:"payload"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}
