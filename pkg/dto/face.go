package dto

import "time"

type RegisterRequest struct {
	Images []string `json:"images" binding:"required"`
}

type ImageResult struct {
	Index    int    `json:"index"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

type RegisterResponse struct {
	Message      string        `json:"message"`
	Success      bool          `json:"success"`
	FaceID       int           `json:"face_id"`
	SamplesSaved int           `json:"samples_saved"`
	Results      []ImageResult `json:"results"`
	Warning      string        `json:"warning,omitempty"`
}

type RecognizeRequest struct {
	Image string `json:"image" binding:"required"`
}

type UserResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	FaceID    *int   `json:"face_id,omitempty"`
}

// ConfidenceData carries the raw chi-square distance (lower is closer) and
// the derived accuracy figure.
type ConfidenceData struct {
	Confidence float64 `json:"confidence"`
	Accuracy   float64 `json:"accuracy"`
}

type RecognizeResponse struct {
	Message        string         `json:"message"`
	Success        bool           `json:"success"`
	RecognizedUser *UserResponse  `json:"recognized_user,omitempty"`
	FaceID         *int           `json:"face_id,omitempty"`
	ConfidenceData ConfidenceData `json:"confidence_data"`
}

type StatusResponse struct {
	FaceRegistered bool   `json:"face_registered"`
	UserID         string `json:"user_id"`
	FaceID         *int   `json:"face_id"`
	SampleCount    int    `json:"sample_count"`
}

type DeleteResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	Warning string `json:"warning,omitempty"`
}

// WSEvent is one message on the /v1/ws stream.
type WSEvent struct {
	Type      string    `json:"type"`
	Identity  string    `json:"identity,omitempty"`
	FaceID    *int      `json:"face_id,omitempty"`
	Distance  *float64  `json:"distance,omitempty"`
	Samples   int       `json:"samples,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
