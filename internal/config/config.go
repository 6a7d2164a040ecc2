// Package config loads service settings from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ecoroute/internal/hotspot"
	"ecoroute/internal/opt"
)

// Config is the full service configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Catalog   Catalog   `yaml:"catalog"`
	Events    Events    `yaml:"events"`
	Webhooks  Webhooks  `yaml:"webhooks"`
	Hotspots  Hotspots  `yaml:"hotspots"`
	Optimizer Optimizer `yaml:"optimizer"`
}

type Server struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// PlanRate is the sustained POST /v1/plans rate per second; PlanBurst
	// the bucket size. Zero rate disables limiting.
	PlanRate  float64 `yaml:"planRate"`
	PlanBurst int     `yaml:"planBurst"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Catalog struct {
	// Driver is memory, postgres or sqlite.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Events struct {
	RedisURL string `yaml:"redisUrl"`
}

// Webhooks receive signed copies of published events.
type Webhooks struct {
	URLs        []string `yaml:"urls"`
	Secret      string   `yaml:"secret"`
	MaxAttempts int      `yaml:"maxAttempts"`
}

type Hotspots struct {
	NeighborhoodRadius float64 `yaml:"neighborhoodRadius"`
	MinPoints          int     `yaml:"minPoints"`
	KgPerDensityUnit   float64 `yaml:"kgPerDensityUnit"`
}

// Params converts to clustering parameters.
func (h Hotspots) Params() hotspot.Params {
	return hotspot.Params{NeighborhoodRadius: h.NeighborhoodRadius, MinPoints: h.MinPoints, KgPerDensityUnit: h.KgPerDensityUnit}
}

type Optimizer struct {
	TimeBudget     time.Duration `yaml:"timeBudget"`
	// MaxTimeBudget caps the budget a single plan request may ask for.
	MaxTimeBudget  time.Duration `yaml:"maxTimeBudget"`
	CircuityFactor float64       `yaml:"circuityFactor"`
	ReturnToDepot  bool          `yaml:"returnToDepot"`
	MaxSweeps      int           `yaml:"maxSweeps"`
	Workers        int           `yaml:"workers"`
	Seed           string        `yaml:"seed"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := hotspot.DefaultParams()
	return Config{
		Server: Server{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			PlanRate:        5,
			PlanBurst:       10,
		},
		Log:      Log{Level: "info", Format: "text"},
		Catalog:  Catalog{Driver: "memory"},
		Webhooks: Webhooks{MaxAttempts: 10},
		Hotspots: Hotspots{
			NeighborhoodRadius: p.NeighborhoodRadius,
			MinPoints:          p.MinPoints,
			KgPerDensityUnit:   p.KgPerDensityUnit,
		},
		Optimizer: Optimizer{
			TimeBudget:     opt.DefaultTimeBudget,
			MaxTimeBudget:  30 * time.Second,
			CircuityFactor: opt.DefaultCircuity,
			ReturnToDepot:  true,
			Seed:           string(opt.SeedInsertion),
		},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads the file named by ECOROUTE_CONFIG, if any.
func FromEnv() (Config, error) {
	return Load(os.Getenv("ECOROUTE_CONFIG"))
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Server.Port)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("CATALOG_DRIVER", &c.Catalog.Driver)
	str("REDIS_URL", &c.Events.RedisURL)
	str("WEBHOOK_SECRET", &c.Webhooks.Secret)
	if v, ok := lookup("WEBHOOK_URLS"); ok && v != "" {
		c.Webhooks.URLs = c.Webhooks.URLs[:0]
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.Webhooks.URLs = append(c.Webhooks.URLs, u)
			}
		}
	}
	if v, ok := lookup("WEBHOOK_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: WEBHOOK_MAX_ATTEMPTS: %w", err)
		}
		c.Webhooks.MaxAttempts = n
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Catalog.DSN = v
		if c.Catalog.Driver == "memory" {
			c.Catalog.Driver = "postgres"
		}
	}
	if v, ok := lookup("OPT_TIME_BUDGET_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: OPT_TIME_BUDGET_MS: %w", err)
		}
		c.Optimizer.TimeBudget = time.Duration(ms) * time.Millisecond
	}
	if v, ok := lookup("OPT_MAX_TIME_BUDGET_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: OPT_MAX_TIME_BUDGET_MS: %w", err)
		}
		c.Optimizer.MaxTimeBudget = time.Duration(ms) * time.Millisecond
	}
	if v, ok := lookup("OPT_CIRCUITY"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: OPT_CIRCUITY: %w", err)
		}
		c.Optimizer.CircuityFactor = f
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Catalog.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Catalog.DSN == "" {
			errs = append(errs, fmt.Errorf("catalog.dsn is required for driver %q", c.Catalog.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.driver %q is not one of memory, postgres, sqlite", c.Catalog.Driver))
	}
	if err := c.Hotspots.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Optimizer.CircuityFactor < 1 {
		errs = append(errs, fmt.Errorf("optimizer.circuityFactor must be >= 1, got %v", c.Optimizer.CircuityFactor))
	}
	if c.Optimizer.TimeBudget < 0 {
		errs = append(errs, errors.New("optimizer.timeBudget must not be negative"))
	}
	if c.Optimizer.MaxTimeBudget <= 0 || c.Optimizer.MaxTimeBudget < c.Optimizer.TimeBudget {
		errs = append(errs, fmt.Errorf("optimizer.maxTimeBudget must be positive and at least timeBudget, got %v", c.Optimizer.MaxTimeBudget))
	}
	if c.Optimizer.MaxSweeps < 0 {
		errs = append(errs, errors.New("optimizer.maxSweeps must not be negative"))
	}
	if !opt.SeedStrategy(c.Optimizer.Seed).Valid() {
		errs = append(errs, fmt.Errorf("optimizer.seed %q is not insertion or nearest", c.Optimizer.Seed))
	}
	if c.Server.PlanRate < 0 || c.Server.PlanBurst < 0 {
		errs = append(errs, errors.New("server.planRate and server.planBurst must not be negative"))
	}
	if len(c.Webhooks.URLs) > 0 && c.Webhooks.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhooks.maxAttempts must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
