package handler

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

//go:embed web/index.html
var indexPage []byte

type RouterOptions struct {
	Logger      zerolog.Logger
	SessionTTL  time.Duration
	CORSOrigins []string
	UploadRate  float64
	UploadBurst int
	// Auth protects the API routes when set.
	Auth gin.HandlerFunc
}

func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(opts.Logger))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))

	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
	})
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	if opts.Auth != nil {
		v1.Use(opts.Auth)
	}
	v1.Use(Sessions(opts.SessionTTL))

	upload := []gin.HandlerFunc{h.UploadImage}
	if opts.UploadRate > 0 {
		burst := opts.UploadBurst
		if burst <= 0 {
			burst = 1
		}
		limiter := NewRateLimiter(rate.Limit(opts.UploadRate), burst)
		upload = append([]gin.HandlerFunc{limiter.Middleware()}, upload...)
	}
	v1.POST("/images", upload...)
	v1.GET("/caption", h.GetCaption)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
