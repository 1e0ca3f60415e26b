package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceid/internal/api/handlers"
	"github.com/your-org/faceid/internal/api/ws"
	"github.com/your-org/faceid/internal/auth"
)

type RouterConfig struct {
	APIKey    string
	JWTSecret string
	MaxBodyMB int
	MinImages int
	MaxImages int
	Service   handlers.FaceService
	Hub       *ws.Hub
	// Trained reports whether a model is loaded, for /readyz.
	Trained func() bool
	Checks  []handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Trained, cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	faceH := handlers.NewFaceHandler(cfg.Service, cfg.MinImages, cfg.MaxImages)

	// Face API (bearer token, identity from the subject claim)
	face := r.Group("/api/face")
	face.Use(BodyLimitMiddleware(int64(cfg.MaxBodyMB) << 20))
	face.POST("/register", auth.JWTMiddleware(cfg.JWTSecret), faceH.Register)
	face.POST("/recognize", auth.JWTMiddleware(cfg.JWTSecret), faceH.Recognize)
	face.GET("/status", auth.JWTMiddleware(cfg.JWTSecret), faceH.Status)
	face.DELETE("/delete", auth.JWTMiddleware(cfg.JWTSecret), faceH.Delete)
	face.POST("/retrain", auth.APIKeyMiddleware(cfg.APIKey), faceH.Retrain)

	// Operator API (API key)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}
