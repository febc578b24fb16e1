package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/andresmejia3/moodscan/internal/detector"
)

// Prefix is prepended to every variable name, e.g. MOODSCAN_ENDPOINT.
const Prefix = "MOODSCAN"

// Config is read from MOODSCAN_* variables only. DATABASE_URL and POSTGRES_*
// are the single unprefixed fallbacks, applied by Load.
type Config struct {
	// Backend
	Endpoint       string        `split_words:"true" default:"http://127.0.0.1:5000"`
	RequestTimeout time.Duration `split_words:"true" default:"10s"`

	// Capture
	CameraInterval     time.Duration `split_words:"true" default:"1500ms"`
	VideoInterval      time.Duration `split_words:"true" default:"2s"`
	CameraDevice       string        `split_words:"true" default:"/dev/video0"`
	CameraFormat       string        `split_words:"true" default:"v4l2"`
	CameraStartTimeout time.Duration `split_words:"true" default:"5s"`
	AllowOverlap       bool          `split_words:"true" default:"false"`
	CaptureDir         string        `split_words:"true"`

	// Detector. An empty CascadePath selects the bundled cascade.
	CascadePath      string  `split_words:"true"`
	MinFace          int     `split_words:"true" default:"20"`
	MaxFace          int     `split_words:"true" default:"1000"`
	ShiftFactor      float64 `split_words:"true" default:"0.1"`
	ScaleFactor      float64 `split_words:"true" default:"1.1"`
	IOUThreshold     float64 `split_words:"true" default:"0.2"`
	QualityThreshold float32 `split_words:"true" default:"5.0"`

	// History. MOODSCAN_DATABASE_URL wins over DATABASE_URL.
	DatabaseURL string `split_words:"true"`

	// Env picks the log profile: development, production, or anything else
	// (the default) for warnings only.
	Env string
}

// Load reads an optional .env file, then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = PostgresURLFromEnv()
	}
	return &cfg, nil
}

// PostgresURLFromEnv builds a connection string from POSTGRES_* variables.
// It returns "" when POSTGRES_HOST is unset.
func PostgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD")),
		Host:   host + ":" + port,
		Path:   "/" + os.Getenv("POSTGRES_DB"),
	}
	return u.String()
}

// Validate rejects settings that would make every capture fail.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("endpoint %q must be an http(s) URL", c.Endpoint))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %v", c.RequestTimeout))
	}
	if c.CameraInterval <= 0 {
		errs = append(errs, fmt.Errorf("camera interval must be positive, got %v", c.CameraInterval))
	}
	if c.VideoInterval <= 0 {
		errs = append(errs, fmt.Errorf("video interval must be positive, got %v", c.VideoInterval))
	}
	if c.ScaleFactor <= 1 {
		errs = append(errs, fmt.Errorf("scale factor must be greater than 1, got %v", c.ScaleFactor))
	}
	if c.QualityThreshold < 0 {
		errs = append(errs, fmt.Errorf("quality threshold must not be negative, got %v", c.QualityThreshold))
	}
	if c.MinFace <= 0 || c.MaxFace < c.MinFace {
		errs = append(errs, fmt.Errorf("face size range %d-%d is invalid", c.MinFace, c.MaxFace))
	}
	return errors.Join(errs...)
}

// DetectorParams converts the detector settings.
func (c *Config) DetectorParams() detector.Params {
	return detector.Params{
		MinSize:          c.MinFace,
		MaxSize:          c.MaxFace,
		ShiftFactor:      c.ShiftFactor,
		ScaleFactor:      c.ScaleFactor,
		IoUThreshold:     c.IOUThreshold,
		QualityThreshold: c.QualityThreshold,
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
