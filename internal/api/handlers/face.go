package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/internal/auth"
	"github.com/your-org/faceid/internal/faceerr"
	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/pkg/dto"
)

// FaceService is the subset of faceid.Service the handlers call.
type FaceService interface {
	Enroll(ctx context.Context, identity string, images [][]byte) (*faceid.EnrollResult, error)
	Recognize(ctx context.Context, image []byte) (*faceid.RecognizeResult, error)
	Status(ctx context.Context, identity string) (*faceid.StatusResult, error)
	Revoke(ctx context.Context, identity string) (*faceid.RevokeResult, error)
	Retrain(ctx context.Context) error
}

type FaceHandler struct {
	svc       FaceService
	minImages int
	maxImages int
}

func NewFaceHandler(svc FaceService, minImages, maxImages int) *FaceHandler {
	return &FaceHandler{svc: svc, minImages: minImages, maxImages: maxImages}
}

func (h *FaceHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if !bindJSON(c, &req, "images are required") {
		return
	}
	if len(req.Images) < h.minImages {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("minimum %d images required", h.minImages)})
		return
	}
	if len(req.Images) > h.maxImages {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("maximum %d images allowed", h.maxImages)})
		return
	}

	identity := auth.Identity(c)
	images := make([][]byte, len(req.Images))
	for i, s := range req.Images {
		data, err := decodeDataURL(s)
		if err != nil {
			// left empty, the service reports it as a per-image decode failure
			slog.Debug("undecodable image payload", "identity", identity, "index", i, "error", err)
			continue
		}
		images[i] = data
	}

	res, err := h.svc.Enroll(c.Request.Context(), identity, images)
	if err != nil {
		body := gin.H{"error": err.Error()}
		if res != nil {
			body["results"] = imageResults(res.Images)
		}
		c.JSON(statusFor(err), body)
		return
	}

	c.JSON(http.StatusOK, dto.RegisterResponse{
		Message:      fmt.Sprintf("Face registration completed successfully. %d samples saved and model trained.", res.SampleCount),
		Success:      true,
		FaceID:       res.ProfileID,
		SamplesSaved: res.SampleCount,
		Results:      imageResults(res.Images),
		Warning:      res.Warning,
	})
}

func (h *FaceHandler) Recognize(c *gin.Context) {
	var req dto.RecognizeRequest
	if !bindJSON(c, &req, "image is required") {
		return
	}
	data, err := decodeDataURL(req.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Recognize(c.Request.Context(), data)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := dto.RecognizeResponse{
		Message: "Face not recognized",
		ConfidenceData: dto.ConfidenceData{
			Confidence: res.Distance,
			Accuracy:   res.Accuracy,
		},
	}
	if res.Recognized {
		resp.Message = "Face recognized successfully"
		resp.Success = true
		resp.FaceID = res.ProfileID
		if ident := res.Identity; ident != nil {
			resp.RecognizedUser = &dto.UserResponse{
				ID:        ident.ID,
				FirstName: ident.FirstName,
				LastName:  ident.LastName,
				Email:     ident.Email,
				FaceID:    ident.ProfileID,
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *FaceHandler) Status(c *gin.Context) {
	identity := auth.Identity(c)
	res, err := h.svc.Status(c.Request.Context(), identity)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{
		FaceRegistered: res.Registered,
		UserID:         identity,
		FaceID:         res.ProfileID,
		SampleCount:    res.SampleCount,
	})
}

func (h *FaceHandler) Delete(c *gin.Context) {
	res, err := h.svc.Revoke(c.Request.Context(), auth.Identity(c))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.DeleteResponse{
		Message: "User face data deleted successfully",
		Success: true,
		Warning: res.Warning,
	})
}

func (h *FaceHandler) Retrain(c *gin.Context) {
	if err := h.svc.Retrain(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func bindJSON(c *gin.Context, req any, msg string) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
	return false
}

// decodeDataURL accepts plain base64 or a data URL ("data:image/jpeg;base64,...").
func decodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return nil, errors.New("empty image payload")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return data, nil
}

func imageResults(in []faceid.ImageResult) []dto.ImageResult {
	out := make([]dto.ImageResult, len(in))
	for i, r := range in {
		out[i] = dto.ImageResult{Index: r.Index, Accepted: r.Accepted, Error: r.Error}
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, faceerr.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, faceerr.ErrModelNotTrained):
		return http.StatusConflict
	case errors.Is(err, faceerr.ErrDecode),
		errors.Is(err, faceerr.ErrNoFaceDetected),
		errors.Is(err, faceerr.ErrAmbiguousFace),
		errors.Is(err, faceerr.ErrFaceTooSmall),
		errors.Is(err, faceerr.ErrInsufficientSamples),
		errors.Is(err, faceerr.ErrTooManySamples),
		errors.Is(err, faceerr.ErrNoTrainingData):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
