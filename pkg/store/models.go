package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type SubmissionModel struct {
	ID           string         `gorm:"primaryKey;size:24"`
	Synopsis     string         `gorm:"type:text;not null"`
	Text         string         `gorm:"type:text;not null"`
	FileName     string         `gorm:"not null"`
	FileSize     int64          `gorm:"not null"`
	StorageKey   string
	Status       string         `gorm:"not null;index:idx_submissions_status_updated,priority:1"`
	Attempts     int            `gorm:"not null;default:0"`
	Analysis     datatypes.JSON
	ErrorMessage string         `gorm:"type:text"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null;index:idx_submissions_status_updated,priority:2"`
	CompletedAt  *time.Time
}

func (SubmissionModel) TableName() string { return "submissions" }

type EmailSignupModel struct {
	ID           string    `gorm:"primaryKey;size:24"`
	Email        string    `gorm:"not null;index"`
	SubmissionID string    `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (EmailSignupModel) TableName() string { return "email_signups" }
