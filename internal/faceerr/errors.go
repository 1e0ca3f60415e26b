// Package faceerr defines the error values shared by the enrollment and
// recognition pipeline. Callers compare with errors.Is.
package faceerr

import "errors"

var (
	// ErrDecode is returned for empty, malformed or unsupported image payloads.
	ErrDecode = errors.New("decode image")

	ErrNoFaceDetected = errors.New("no face detected in the image")
	ErrAmbiguousFace  = errors.New("multiple faces detected, ensure only one face is visible")
	ErrFaceTooSmall   = errors.New("detected face is too small")

	// ErrInsufficientSamples is returned when fewer than the minimum number
	// of usable face samples are available for a profile.
	ErrInsufficientSamples = errors.New("insufficient face samples")
	ErrTooManySamples      = errors.New("too many face samples")

	ErrNoTrainingData  = errors.New("no face samples found for training")
	ErrModelNotTrained = errors.New("no trained model found, register faces first")
	ErrProfileNotFound = errors.New("face profile not found")
)
