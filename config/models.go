package config

import (
	"time"
)

// TrainingRun is the persisted form of a training job
type TrainingRun struct {
	RunID             string `gorm:"primaryKey"`
	FileID            string `gorm:"index"`
	Status            string `gorm:"index"`
	Config            string `gorm:"type:text"` // JSON training config
	CurrentEpoch      int
	TotalEpochs       int
	Metrics           string `gorm:"type:text"` // JSON map of metric name to value
	History           string `gorm:"type:text"` // JSON per-epoch history
	FeatureCols       string `gorm:"type:text"` // JSON array
	FeatureImportance string `gorm:"type:text"` // JSON array, top entries only
	Artifacts         string `gorm:"type:text"` // JSON artifact keys
	TrainSize         int
	ValSize           int
	Error             string `gorm:"type:text"`
	StartTime         *time.Time
	EndTime           *time.Time
	CreatedAt         time.Time `gorm:"index"`
	UpdatedAt         time.Time
}

// TableName overrides the table name
func (TrainingRun) TableName() string {
	return "training_runs"
}
