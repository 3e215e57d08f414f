// Package api serves the seminar HTTP API. Every response body is either
// {"data": ...} or {"error": "..."}.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"seminarhub/internal/attendance"
	"seminarhub/internal/audit"
	"seminarhub/internal/cloudinary"
	"seminarhub/internal/config"
	"seminarhub/internal/httpmiddleware"
	"seminarhub/internal/queue"
	"seminarhub/internal/seminar"
	"seminarhub/internal/store"
)

// Deps are the collaborators of the API. Only Config, Log and Store are
// required.
type Deps struct {
	Config     config.App
	Log        *zap.Logger
	Store      store.Handle
	Locks      attendance.Locker
	Limiter    httpmiddleware.Limiter
	Audit      queue.Queue
	Cloudinary *cloudinary.Client
	Redis      *store.Redis
	// HTTP fetches certificate templates. Redirects off the Cloudinary
	// delivery host are not followed.
	HTTP *http.Client
}

// Server holds the handlers.
type Server struct {
	cfg        config.App
	log        *zap.Logger
	handle     store.Handle
	seminars   *seminar.Repository
	attendance *attendance.Service
	cdn        *cloudinary.Client
	redis      *store.Redis
	fetch      *http.Client
}

// NewServer builds the handlers. With an unconfigured store the data
// handlers are never reached.
func NewServer(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	fetch := &http.Client{Timeout: 10 * time.Second}
	if d.HTTP != nil {
		client := *d.HTTP
		fetch = &client
	}
	fetch.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 || !d.Cloudinary.Delivers(req.URL.String()) {
			return http.ErrUseLastResponse
		}
		return nil
	}
	s := &Server{
		cfg:    d.Config,
		log:    log,
		handle: d.Store,
		cdn:    d.Cloudinary,
		redis:  d.Redis,
		fetch:  fetch,
	}
	if st, err := d.Store.Get(); err == nil {
		s.seminars = seminar.NewRepository(st)
		s.attendance = attendance.NewService(st, d.Locks, log)
	}
	return s
}

// NewRouter wires middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	s := NewServer(d)
	r := gin.New()

	r.Use(RequestID())
	r.Use(Logger(s.log, "/healthz", "/metrics"))
	r.Use(Recovery(s.log))
	r.Use(Metrics())
	r.Use(CORS(d.Config))
	r.Use(SecurityHeaders())
	if d.Limiter != nil {
		r.Use(httpmiddleware.RateLimit(d.Limiter, func(err error) {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
		}))
	}
	if d.Audit != nil {
		r.Use(audit.Middleware(d.Audit, "/api/", s.log))
	}

	r.GET("/", s.root)
	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/seminars/:id/participants/qr/", s.participantQR)

	data := api.Group("", RequireStore(d.Store))
	{
		data.GET("/seminars/", s.listSeminars)
		data.POST("/seminars/", s.createSeminar)
		data.GET("/seminars/:id/", s.getSeminar)
		data.PUT("/seminars/:id/", s.replaceSeminar)
		data.DELETE("/seminars/:id/", s.deleteSeminar)

		data.GET("/seminars/:id/attendance/", s.listAttendance)
		data.POST("/seminars/:id/attendance/time_in/", s.timeIn)
		data.POST("/seminars/:id/attendance/time_out/", s.timeOut)
		data.POST("/attendance/scan/", s.scan)

		data.GET("/seminars/:id/participants/", s.listParticipants)
		data.POST("/seminars/:id/participants/join/", s.joinParticipant)
		data.POST("/seminars/:id/participants/check_in/", s.checkIn)
		data.POST("/seminars/:id/participants/check_out/", s.checkOut)

		data.GET("/seminars/:id/evaluations/", s.listEvaluations)
		data.POST("/seminars/:id/evaluations/submit/", s.submitEvaluation)
		data.GET("/seminars/:id/evaluations/check/", s.hasEvaluated)

		data.POST("/seminars/:id/certificate_template/", s.uploadTemplate)
		data.GET("/seminars/:id/certificate/", s.certificate)
	}
	return r
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "VPAA Seminar Management API",
		"version": "1.0",
		"status":  "running",
		"endpoints": gin.H{
			"seminars":     "/api/seminars/",
			"attendance":   "/api/seminars/<id>/attendance/",
			"participants": "/api/seminars/<id>/participants/",
			"evaluations":  "/api/seminars/<id>/evaluations/",
		},
	})
}

func (s *Server) health(c *gin.Context) {
	storeReady := s.handle.Ready()
	body := gin.H{"store": storeReady}
	healthy := storeReady
	if s.redis != nil {
		redisHealthy := s.redis.Healthy(c.Request.Context())
		body["redis"] = redisHealthy
		healthy = healthy && redisHealthy
	}
	status := http.StatusOK
	body["status"] = "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
