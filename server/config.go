package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type (
	// Properties is the daemon configuration, read from PHOTOPATH_* variables.
	Properties struct {
		App AppProperties `envPrefix:"PHOTOPATH_"`
	}

	AppProperties struct {
		LogLevel              string   `env:"LOG_LEVEL" envDefault:"INFO"`
		TimeZone              string   `env:"TIMEZONE" envDefault:"Local"`
		AnonymousLimit        int      `env:"ANON_LIMIT" envDefault:"5"`
		AuthenticatedLimit    int      `env:"AUTH_LIMIT" envDefault:"20"`
		NearDuplicateDistance int      `env:"NEAR_DUPLICATE_DISTANCE" envDefault:"0"`
		FontRegular           string   `env:"FONT_REGULAR"`
		FontBold              string   `env:"FONT_BOLD"`
		CORSOrigins           []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

		HTTP       HTTPProperties       `envPrefix:"HTTP_"`
		Store      StoreProperties      `envPrefix:"STORE_"`
		Ollama     OllamaProperties     `envPrefix:"OLLAMA_"`
		Cloudinary CloudinaryProperties `envPrefix:"CLOUDINARY_"`
		S3         S3Properties         `envPrefix:"S3_"`
	}

	HTTPProperties struct {
		Addr            string        `env:"ADDR" envDefault:":8080"`
		ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"150s"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	}

	StoreProperties struct {
		Driver      string        `env:"DRIVER" envDefault:"sqlite"` // memory, file, sqlite, redis
		Path        string        `env:"PATH" envDefault:"photopath.db"`
		Dir         string        `env:"DIR" envDefault:"photopath-data"`
		RedisURL    string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
		RedisPrefix string        `env:"REDIS_PREFIX" envDefault:"photopath:"`
		RedisTTL    time.Duration `env:"REDIS_TTL" envDefault:"0s"`
	}

	OllamaProperties struct {
		BaseURL string        `env:"URL" envDefault:"http://localhost:11434"`
		Model   string        `env:"MODEL" envDefault:"llava:13b"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"120s"`
	}

	CloudinaryProperties struct {
		CloudName    string `env:"CLOUD_NAME"`
		UploadPreset string `env:"UPLOAD_PRESET" envDefault:"photopath"`
		Folder       string `env:"FOLDER" envDefault:"photopath"`
	}

	S3Properties struct {
		Endpoint  string `env:"ENDPOINT"`
		AccessKey string `env:"ACCESS_KEY"`
		SecretKey string `env:"SECRET_KEY"`
		Bucket    string `env:"BUCKET" envDefault:"photopath"`
		UseSSL    bool   `env:"USE_SSL" envDefault:"true"`
		PublicURL string `env:"PUBLIC_URL"`
	}
)

// ReadProperties parses the environment.
func ReadProperties() (*AppProperties, error) {
	p := &Properties{}
	if err := env.Parse(p); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &p.App, nil
}

// Location resolves TimeZone; unknown names fall back to time.Local.
func (p *AppProperties) Location() *time.Location {
	if p.TimeZone == "" || strings.EqualFold(p.TimeZone, "Local") {
		return time.Local
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		slog.Warn("photopath: unknown time zone, using local", "tz", p.TimeZone, "error", err.Error())
		return time.Local
	}
	return loc
}

// SlogLevel maps LogLevel to a slog level (default Info).
func (p *AppProperties) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(p.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
