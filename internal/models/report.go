package models

import "gorm.io/gorm"

// Report is a complaint one participant files against their random-session
// partner. Confirmed reports feed the reputation and ban pipeline.
type Report struct {
	gorm.Model

	ReporterID     string `gorm:"index;not null"`
	ReportedUserID string `gorm:"index;not null"`
	SessionID      string `gorm:"index;not null"`
	// Category is one of the weighted report categories ("Low", "Medium",
	// "Critical").
	Category string `gorm:"not null"`
	Comment  string `gorm:"type:text"`
	Status   string // "new", "processed", "confirmed"
}
