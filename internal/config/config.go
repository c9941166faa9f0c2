package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	MaxUploadSize int64  `envconfig:"MAX_UPLOAD_SIZE" default:"10485760"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	// HuggingFaceAPIKey may be empty; every caption request then fails with a configuration error.
	HuggingFaceAPIKey  string        `envconfig:"HUGGINGFACE_API_KEY"`
	HuggingFaceURL     string        `envconfig:"HUGGINGFACE_URL" default:"https://api-inference.huggingface.co/models"`
	HuggingFaceModel   string        `envconfig:"HUGGINGFACE_MODEL" default:"Salesforce/blip-image-captioning-large"`
	HuggingFaceTimeout time.Duration `envconfig:"HUGGINGFACE_TIMEOUT" default:"2m"`

	SessionStore string        `envconfig:"SESSION_STORE" default:"memory"`
	SessionTTL   time.Duration `envconfig:"SESSION_TTL" default:"1h"`
	RedisURL     string        `envconfig:"REDIS_URL" default:"localhost:6379"`

	UploadRate  float64  `envconfig:"UPLOAD_RATE" default:"2"`
	UploadBurst int      `envconfig:"UPLOAD_BURST" default:"5"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`

	AuthJWKSURL  string `envconfig:"AUTH_JWKS_URL"`
	AuthClientID string `envconfig:"AUTH_CLIENT_ID"`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// HasCredential reports whether the captioning credential is configured.
func (c *Config) HasCredential() bool {
	return c.HuggingFaceAPIKey != ""
}
