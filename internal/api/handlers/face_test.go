package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/faceerr"
	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/pkg/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	enrolled  [][]byte
	identity  string
	enrollRes *faceid.EnrollResult
	enrollErr error
	recogRes  *faceid.RecognizeResult
	recogErr  error
	statusRes *faceid.StatusResult
	revokeRes *faceid.RevokeResult
	revokeErr error
	retrained bool
}

func (f *fakeService) Enroll(_ context.Context, identity string, images [][]byte) (*faceid.EnrollResult, error) {
	f.identity, f.enrolled = identity, images
	return f.enrollRes, f.enrollErr
}

func (f *fakeService) Recognize(context.Context, []byte) (*faceid.RecognizeResult, error) {
	return f.recogRes, f.recogErr
}

func (f *fakeService) Status(_ context.Context, identity string) (*faceid.StatusResult, error) {
	f.identity = identity
	return f.statusRes, nil
}

func (f *fakeService) Revoke(_ context.Context, identity string) (*faceid.RevokeResult, error) {
	f.identity = identity
	return f.revokeRes, f.revokeErr
}

func (f *fakeService) Retrain(context.Context) error {
	f.retrained = true
	return nil
}

func newTestRouter(svc FaceService) *gin.Engine {
	h := NewFaceHandler(svc, 3, 30)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("identity", "user-1"); c.Next() })
	r.POST("/register", h.Register)
	r.POST("/recognize", h.Recognize)
	r.GET("/status", h.Status)
	r.DELETE("/delete", h.Delete)
	r.POST("/retrain", h.Retrain)
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = strings.NewReader(string(b))
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestRegister(t *testing.T) {
	svc := &fakeService{enrollRes: &faceid.EnrollResult{
		ProfileID:   4,
		SampleCount: 3,
		Images: []faceid.ImageResult{
			{Index: 0, Accepted: true}, {Index: 1, Accepted: true},
			{Index: 2, Accepted: true}, {Index: 3, Error: "no face"},
		},
	}}
	r := newTestRouter(svc)

	images := []string{b64("a"), "data:image/jpeg;base64," + b64("b"), b64("c"), "%%%"}
	w := do(r, http.MethodPost, "/register", dto.RegisterRequest{Images: images})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 4, resp.FaceID)
	assert.Equal(t, 3, resp.SamplesSaved)
	assert.Len(t, resp.Results, 4)

	assert.Equal(t, "user-1", svc.identity)
	require.Len(t, svc.enrolled, 4)
	assert.Equal(t, []byte("b"), svc.enrolled[1])
	assert.Nil(t, svc.enrolled[3], "undecodable payload forwarded as empty")
}

func TestRegisterPreChecks(t *testing.T) {
	r := newTestRouter(&fakeService{})

	w := do(r, http.MethodPost, "/register", dto.RegisterRequest{Images: []string{b64("a"), b64("b")}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "minimum 3")

	many := make([]string, 31)
	for i := range many {
		many[i] = b64("x")
	}
	w = do(r, http.MethodPost, "/register", dto.RegisterRequest{Images: many})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "maximum 30")

	w = do(r, http.MethodPost, "/register", map[string]any{"pictures": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterInsufficientFaces(t *testing.T) {
	svc := &fakeService{
		enrollRes: &faceid.EnrollResult{Images: []faceid.ImageResult{{Index: 0, Error: "no face"}}},
		enrollErr: fmt.Errorf("%w: 0 usable faces", faceerr.ErrInsufficientSamples),
	}
	w := do(newTestRouter(svc), http.MethodPost, "/register", dto.RegisterRequest{Images: []string{b64("a"), b64("b"), b64("c")}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "insufficient face samples")
	assert.Len(t, body["results"], 1)
}

func TestRecognize(t *testing.T) {
	id := 2
	svc := &fakeService{recogRes: &faceid.RecognizeResult{
		Recognized: true,
		ProfileID:  &id,
		Identity:   &models.Identity{ID: "user-7", FirstName: "Ada", ProfileID: &id},
		Distance:   12.5,
		Accuracy:   87.5,
	}}
	r := newTestRouter(svc)

	w := do(r, http.MethodPost, "/recognize", dto.RecognizeRequest{Image: b64("img")})
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.RecognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.RecognizedUser)
	assert.Equal(t, "Ada", resp.RecognizedUser.FirstName)
	assert.Equal(t, 12.5, resp.ConfidenceData.Confidence)
	assert.Equal(t, 87.5, resp.ConfidenceData.Accuracy)

	svc.recogRes = &faceid.RecognizeResult{Distance: 120, Accuracy: 0}
	w = do(r, http.MethodPost, "/recognize", dto.RecognizeRequest{Image: b64("img")})
	require.Equal(t, http.StatusOK, w.Code)
	resp = dto.RecognizeResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Nil(t, resp.RecognizedUser)
	assert.Equal(t, 120.0, resp.ConfidenceData.Confidence)

	w = do(r, http.MethodPost, "/recognize", dto.RecognizeRequest{Image: "!!!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{faceerr.ErrModelNotTrained, http.StatusConflict},
		{fmt.Errorf("wrap: %w", faceerr.ErrAmbiguousFace), http.StatusBadRequest},
		{faceerr.ErrNoFaceDetected, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", faceerr.ErrDecode, fmt.Errorf("eof")), http.StatusBadRequest},
		{faceerr.ErrProfileNotFound, http.StatusNotFound},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := &fakeService{recogErr: tt.err}
			w := do(newTestRouter(svc), http.MethodPost, "/recognize", dto.RecognizeRequest{Image: b64("img")})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestStatusAndDelete(t *testing.T) {
	id := 5
	svc := &fakeService{
		statusRes: &faceid.StatusResult{Registered: true, ProfileID: &id, SampleCount: 4},
		revokeRes: &faceid.RevokeResult{ProfileID: 5, Warning: "retrain failed"},
	}
	r := newTestRouter(svc)

	w := do(r, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st dto.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.FaceRegistered)
	assert.Equal(t, "user-1", st.UserID)
	assert.Equal(t, 4, st.SampleCount)

	w = do(r, http.MethodDelete, "/delete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var del dto.DeleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &del))
	assert.True(t, del.Success)
	assert.Equal(t, "retrain failed", del.Warning)

	svc.revokeErr = faceerr.ErrProfileNotFound
	w = do(r, http.MethodDelete, "/delete", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetrain(t *testing.T) {
	svc := &fakeService{}
	w := do(newTestRouter(svc), http.MethodPost, "/retrain", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.retrained)
}

func TestDecodeDataURL(t *testing.T) {
	data, err := decodeDataURL("data:image/png;base64," + b64("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	data, err = decodeDataURL(base64.RawStdEncoding.EncodeToString([]byte("hi")))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)

	_, err = decodeDataURL("")
	require.Error(t, err)
	_, err = decodeDataURL("data:image/png;base64,")
	require.Error(t, err)
	_, err = decodeDataURL("not base64 at all")
	require.Error(t, err)
}

func TestReadyz(t *testing.T) {
	ok := Check{Name: "postgres", Ping: func(context.Context) error { return nil }}
	bad := Check{Name: "nats", Ping: func(context.Context) error { return fmt.Errorf("nats not connected") }}

	r := gin.New()
	r.GET("/ready", NewSystemHandler(func() bool { return true }, ok).Readyz)
	r.GET("/notready", NewSystemHandler(nil, ok, bad).Readyz)

	w := do(r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model":"trained"`)

	w = do(r, http.MethodGet, "/notready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "nats not connected")
}
