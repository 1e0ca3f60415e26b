package models

import (
	"time"

	"github.com/google/uuid"
)

type FaceEventType string

const (
	EventEnrolled     FaceEventType = "enrolled"
	EventRevoked      FaceEventType = "revoked"
	EventRecognized   FaceEventType = "recognized"
	EventUnrecognized FaceEventType = "unrecognized"
	EventRetrained    FaceEventType = "retrained"
)

// FaceEvent is published after every successful face operation.
type FaceEvent struct {
	ID          uuid.UUID     `json:"id"`
	Type        FaceEventType `json:"type"`
	Identity    string        `json:"identity,omitempty"`
	ProfileID   *int          `json:"profile_id,omitempty"`
	Distance    *float64      `json:"distance,omitempty"`
	SampleCount int           `json:"sample_count,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

func NewFaceEvent(typ FaceEventType, identity string, profileID *int) *FaceEvent {
	return &FaceEvent{
		ID:        uuid.New(),
		Type:      typ,
		Identity:  identity,
		ProfileID: profileID,
		Timestamp: time.Now().UTC(),
	}
}
