// Package api exposes the attendance service over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"faceattend/internal/absence"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/events"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/logging"
	"faceattend/internal/pipeline"
	"faceattend/internal/recognition"
)

// HealthCheck reports one dependency.
type HealthCheck func(ctx context.Context) bool

// System is the pipeline control surface.
type System interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() pipeline.Status
}

// Deps wires the handlers.
type Deps struct {
	Attendance *attendance.Service
	Gallery    *recognition.Gallery
	Matcher    *recognition.Matcher
	Enroller   *recognition.Enroller
	Face       pipeline.FaceService
	Monitor    *absence.Monitor
	System     System
	Hub        *events.Hub
	Issuer     *auth.Issuer
	Limiter    *httpmiddleware.SimpleTokenBucket
	Health     map[string]HealthCheck
	CORS       []string
	Logger     zerolog.Logger
}

type handler struct {
	Deps
	log zerolog.Logger
}

// NewRouter builds the gin engine with every route.
func NewRouter(d Deps) *gin.Engine {
	h := &handler{Deps: d, log: d.Logger.With().Str("component", "api").Logger()}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinLogger(h.log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS(d.CORS))
	r.Use(httpmiddleware.SecurityHeaders())
	if d.Limiter != nil {
		r.Use(d.Limiter.GinMiddleware())
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)

	r.POST("/v1/kiosks/register", h.registerKiosk)
	r.POST("/v1/kiosks/refresh", h.refreshKiosk)

	required := auth.Required(d.Issuer)
	r.GET("/ws", required, events.ServeWS(d.Hub, d.System, d.Logger))

	v1 := r.Group("/v1", required)
	v1.GET("/students", h.listStudents)
	v1.POST("/students", h.createStudent)
	v1.POST("/students/:code/enroll", h.enroll)
	v1.GET("/attendance", h.listAttendance)
	v1.POST("/attendance", h.markAttendance)
	v1.GET("/stats", h.stats)
	v1.GET("/leaderboard", h.leaderboard)
	v1.GET("/alerts", h.alerts)
	v1.POST("/recognize", h.recognize)
	v1.POST("/gallery/reload", h.reloadGallery)
	v1.POST("/absence/sweep", h.sweep)
	v1.POST("/system/start", h.startSystem)
	v1.POST("/system/stop", h.stopSystem)
	v1.GET("/system/status", h.systemStatus)

	return r
}

func (h *handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
