// Package entities holds the gorm models persisted by alarmpipe.
package entities

import "time"

// Collections used by alarmpipe.
const (
	CollectionDefinitions = "alarm_definitions"
	CollectionAlarms      = "alarms"
)

// Document is a JSON body stored by (collection, id), the shape the
// definition and alarm services index and fetch by id.
type Document struct {
	Collection string    `gorm:"primaryKey;size:64" json:"collection"`
	ID         string    `gorm:"primaryKey;size:191" json:"id"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Document) TableName() string {
	return "documents"
}
