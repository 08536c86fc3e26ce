package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SensorRecord is the persisted copy of a distributed sensor message
type SensorRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Email       string    `gorm:"not null;index:idx_sensor_records_key,priority:1" json:"email"`
	ContainerID string    `gorm:"not null;index:idx_sensor_records_key,priority:2" json:"container_id"`
	RackID      string    `gorm:"not null;index:idx_sensor_records_key,priority:3" json:"rack_id"`
	Timestamp   time.Time `gorm:"not null;index:idx_sensor_records_key,priority:4" json:"timestamp"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	Methane     *float64  `json:"methane"`
	Fruit       string    `gorm:"not null" json:"fruit"`
	Status      string    `gorm:"not null" json:"status"`
	Image       string    `gorm:"type:jsonb;not null" json:"image"`
	Overflow    bool      `gorm:"not null" json:"overflow"`
	CreatedAt   time.Time `json:"created_at"`
}

func (SensorRecord) TableName() string {
	return "sensor_records"
}

// BeforeCreate assigns the record id on the application side
func (r *SensorRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// NewSensorRecord builds the row stored for a channel message
func NewSensorRecord(msg *SensorMessage) (*SensorRecord, error) {
	image, err := json.Marshal(msg.Image)
	if err != nil {
		return nil, err
	}

	return &SensorRecord{
		Email:       msg.Email,
		ContainerID: msg.ContainerID,
		RackID:      msg.RackID,
		Timestamp:   msg.Timestamp.UTC(),
		Temperature: msg.Temperature,
		Humidity:    msg.Humidity,
		Methane:     msg.Methane,
		Fruit:       string(msg.Fruit),
		Status:      string(msg.Status),
		Image:       string(image),
	}, nil
}

// Key returns the retention window of the record
func (r *SensorRecord) Key() RetentionKey {
	return RetentionKey{
		Owner:       r.Email,
		ContainerID: r.ContainerID,
		RackID:      r.RackID,
	}
}
