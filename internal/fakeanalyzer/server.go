// Package fakeanalyzer is an in-process stand-in for the analyzer's HTTP remote
// service. It is used by tests and by the mock-analyzer example program.
package fakeanalyzer

import (
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-robotray/logger"
	"github.com/gin-gonic/gin"
)

// Default payloads served until they are replaced.
var (
	DefaultParams = json.RawMessage(`{"beams":[{"name":"Beam 1","settings":{"durationSec":10}},{"name":"Beam 2","settings":{"durationSec":20}}],"filter":"Cu"}`)
	DefaultStatus = json.RawMessage(`{"battery":{"percent":87},"isCharging":false,"temperatures":{"tube":35.5,"detector":-20},"uptimeSec":3723,"beamState":"idle","isECalNeeded":false}`)
	DefaultResult = json.RawMessage(`{"serialNumber":"SN-0001","testData":{"chemistry":[{"atomicNumber":26,"percent":70.25},{"atomicNumber":24,"percent":18.1},{"atomicNumber":28,"percent":8.05}],"firstGradeMatch":"316","secondGradeMatch":"304"},"spectra":[{"beamName":"Beam 1","data":[0,12,40,7],"energyOffset":-0.02,"energySlope":0.02,"liveTime":8,"liveTimeMultiplier":1}]}`)
	DefaultEnergyCal = json.RawMessage(`{"offset":-0.0198,"slope":0.02001}`)
	DefaultImage     = []byte("\x89PNG\r\n\x1a\n")
)

// Trigger is one recorded trigger request.
type Trigger struct {
	Mode string
	Kind string
	At   time.Time
}

type failure struct {
	status int
	body   string
}

// Server is a fake remote service. Its handler serves the API below the configured
// API root; every method is safe for concurrent use.
type Server struct {
	mu          sync.Mutex
	family      string
	apps        []string
	apiRoot     string
	legacyAbort bool
	params      map[string]json.RawMessage
	status      json.RawMessage
	result      json.RawMessage
	energyCal   json.RawMessage
	image       []byte
	failures    map[int]failure
	down        bool
	triggers    []Trigger
	aborts      int
	calibrated  int

	logger logger.Logger
	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithFamily sets the family reported by the identification document.
func WithFamily(family string) Option { return func(s *Server) { s.family = family } }

// WithApps sets the analysis modes reported by the identification document.
func WithApps(apps ...string) Option { return func(s *Server) { s.apps = apps } }

// WithAPIRoot sets the API root, e.g. "/api/v1". The default is "/api/v2".
func WithAPIRoot(root string) Option {
	return func(s *Server) { s.apiRoot = "/" + strings.Trim(root, "/") }
}

// WithLegacyAbort serves abort only at "{root}/abort", like older firmware.
func WithLegacyAbort() Option { return func(s *Server) { s.legacyAbort = true } }

// WithResult sets the result returned by every trigger.
func WithResult(raw json.RawMessage) Option { return func(s *Server) { s.result = raw } }

// WithStatus sets the status document.
func WithStatus(raw json.RawMessage) Option { return func(s *Server) { s.status = raw } }

// WithParams sets the acquisition parameters served for every mode.
func WithParams(raw json.RawMessage) Option { return func(s *Server) { s.params["*"] = raw } }

// WithLogger sets the logger of the request log middleware.
func WithLogger(l logger.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a server.
func New(opts ...Option) *Server {
	s := &Server{
		family:    "X-550",
		apps:      []string{"Mining", "Soil"},
		apiRoot:   "/api/v2",
		params:    map[string]json.RawMessage{"*": DefaultParams},
		status:    DefaultStatus,
		result:    DefaultResult,
		energyCal: DefaultEnergyCal,
		image:     DefaultImage,
		failures:  make(map[int]failure),
		logger:    logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "fake-analyzer")
	s.engine = s.router()

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.engine }

// APIRoot returns the API root.
func (s *Server) APIRoot() string { return s.apiRoot }

func (s *Server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.loggingMiddleware(), s.availability())

	api := router.Group(s.apiRoot)
	{
		api.GET("/id", s.identify)

		test := api.Group("/test")
		{
			test.POST("/:kind", s.test)
		}
		api.POST("/abort", s.abort)

		api.GET("/acquisitionParams/user", s.getParams)
		api.PUT("/acquisitionParams/user", s.putParams)

		api.GET("/status", s.getStatus)
		api.GET("/energyCal", s.getEnergyCal)
		api.POST("/energyCal", s.startEnergyCal)

		api.GET("/screenshot", s.imageHandler)
		api.GET("/photo", s.imageHandler)
	}

	return router
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// availability rejects every request while the server is down.
func (s *Server) availability() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		down := s.down
		s.mu.Unlock()

		if down {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
			return
		}
		c.Next()
	}
}

func (s *Server) identify(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"family": s.family, "apps": s.apps})
}

func (s *Server) test(c *gin.Context) {
	kind := c.Param("kind")
	if kind == "abort" {
		if s.legacyAbort {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		s.abort(c)

		return
	}
	if kind != "final" && kind != "all" {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown test kind " + kind})
		return
	}

	mode := c.Query("mode")

	s.mu.Lock()
	s.triggers = append(s.triggers, Trigger{Mode: mode, Kind: kind, At: time.Now()})
	n := len(s.triggers)
	fail, failed := s.failures[n]
	result := s.result
	known := mode != "" && slices.ContainsFunc(s.apps, func(a string) bool { return strings.EqualFold(a, mode) })
	s.mu.Unlock()

	switch {
	case failed:
		c.Data(fail.status, "text/plain; charset=utf-8", []byte(fail.body))
	case !known:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode " + mode})
	default:
		c.Data(http.StatusOK, "application/json", result)
	}
}

func (s *Server) abort(c *gin.Context) {
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"aborted": true})
}

func (s *Server) getParams(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", s.Params(c.Query("mode")))
}

func (s *Server) putParams(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	s.mu.Lock()
	s.params[c.Query("mode")] = json.RawMessage(body)
	s.mu.Unlock()

	c.Status(http.StatusNoContent)
}

func (s *Server) getStatus(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Data(http.StatusOK, "application/json", s.status)
}

func (s *Server) getEnergyCal(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Data(http.StatusOK, "application/json", s.energyCal)
}

func (s *Server) startEnergyCal(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calibrated++
	c.Data(http.StatusOK, "application/json", s.energyCal)
}

func (s *Server) imageHandler(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Data(http.StatusOK, "image/png", s.image)
}

// FailTrigger makes the n-th trigger request (1-based, counted over the server's
// lifetime) answer with status and body.
func (s *Server) FailTrigger(n, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[n] = failure{status: status, body: body}
}

// SetDown makes every request answer 503 while down is true.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.down = down
}

// SetImage sets the bytes served as screenshot and photo.
func (s *Server) SetImage(img []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.image = img
}

// Params returns the acquisition parameters currently stored for mode.
func (s *Server) Params(mode string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.params[mode]; ok {
		return p
	}

	return s.params["*"]
}

// Triggers returns the recorded trigger requests.
func (s *Server) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.triggers)
}

// Aborts returns the number of accepted abort requests.
func (s *Server) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.aborts
}

// Calibrations returns the number of energy calibrations started.
func (s *Server) Calibrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calibrated
}
