package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/basin-anomaly/internal/domain"
)

// burstOrigins start every ensemble member on the same nominal date.
var burstOrigins = []string{"ecmwf", "meteo_france", "dwd", "cmcc", "eccc"}

// Config holds all run settings, populated from environment variables.
type Config struct {
	// Model identity.
	Institution string
	ModelName   string
	Origin      string
	System      string
	Lagged      bool
	Variable    string

	StartMonth        int
	HindcastStartYear int
	HindcastEndYear   int
	ForecastYears     []int
	Season            domain.Season
	UnitConvention    domain.UnitConvention
	BasinCount        int
	DegenerateEpsilon float64

	HindcastDir string
	ForecastDir string
	BasinDir    string
	OutputDir   string

	RenderEnabled  bool
	YearlyStats    bool
	FieldCacheSize int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Optional publication of basin summaries.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	startMonth, err := envInt("START_MONTH", 10)
	if err != nil {
		return nil, err
	}
	hcStart, err := envInt("HINDCAST_START_YEAR", 1993)
	if err != nil {
		return nil, err
	}
	hcEnd, err := envInt("HINDCAST_END_YEAR", 2016)
	if err != nil {
		return nil, err
	}
	years, err := parseYears(sharedcfg.EnvOrDefault("FORECAST_YEARS", "2022,2023,2024"))
	if err != nil {
		return nil, err
	}
	basinCount, err := envInt("BASIN_COUNT", 25)
	if err != nil {
		return nil, err
	}
	cacheSize, err := envInt("FIELD_CACHE_SIZE", 4)
	if err != nil {
		return nil, err
	}
	epsilon, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("DEGENERATE_EPSILON", "1e-6"), 64)
	if err != nil || epsilon < 0 {
		return nil, errors.New("invalid DEGENERATE_EPSILON")
	}

	origin := sharedcfg.EnvOrDefault("ORIGIN", "ecmwf")
	lagged := !slices.Contains(burstOrigins, origin)
	if v := os.Getenv("LAGGED"); v != "" {
		lagged = v == "true"
	}

	cfg := &Config{
		Institution: sharedcfg.EnvOrDefault("INSTITUTION", "ECMWF"),
		ModelName:   sharedcfg.EnvOrDefault("MODEL_NAME", "SEAS5"),
		Origin:      origin,
		System:      sharedcfg.EnvOrDefault("SYSTEM", "51"),
		Lagged:      lagged,
		Variable:    sharedcfg.EnvOrDefault("VARIABLE", "tprate"),

		StartMonth:        startMonth,
		HindcastStartYear: hcStart,
		HindcastEndYear:   hcEnd,
		ForecastYears:     years,
		Season:            domain.Season(strings.ToLower(sharedcfg.EnvOrDefault("SEASON", string(domain.SeasonNDJFM)))),
		UnitConvention:    domain.UnitConvention(strings.ToLower(sharedcfg.EnvOrDefault("UNIT_CONVENTION", string(domain.UnitsFlat30)))),
		BasinCount:        basinCount,
		DegenerateEpsilon: epsilon,

		HindcastDir: sharedcfg.EnvOrDefault("HINDCAST_DIR", "data/hindcast"),
		ForecastDir: sharedcfg.EnvOrDefault("FORECAST_DIR", "data/forecast"),
		BasinDir:    sharedcfg.EnvOrDefault("BASIN_DIR", "data/basins"),
		OutputDir:   sharedcfg.EnvOrDefault("OUTPUT_DIR", "results"),

		RenderEnabled:  sharedcfg.EnvOrDefault("RENDER_ENABLED", "true") == "true",
		YearlyStats:    sharedcfg.EnvOrDefault("YEARLY_STATS", "false") == "true",
		FieldCacheSize: cacheSize,

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaEnabled: sharedcfg.EnvOrDefault("KAFKA_ENABLED", "false") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "basin-anomaly-summaries"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StartMonth != 10 && c.StartMonth != 11 {
		return fmt.Errorf("START_MONTH %d: %w", c.StartMonth, domain.ErrUnsupportedStartMonth)
	}
	if c.HindcastStartYear > c.HindcastEndYear {
		return errors.New("HINDCAST_START_YEAR must not be after HINDCAST_END_YEAR")
	}
	if len(c.ForecastYears) == 0 {
		return errors.New("FORECAST_YEARS is required")
	}
	switch c.Season {
	case domain.SeasonNDJFM, domain.SeasonDJF:
	default:
		return fmt.Errorf("invalid SEASON %q", c.Season)
	}
	switch c.UnitConvention {
	case domain.UnitsFlat30, domain.UnitsDaysInMonth:
	default:
		return fmt.Errorf("invalid UNIT_CONVENTION %q", c.UnitConvention)
	}
	if c.BasinCount < 1 {
		return errors.New("BASIN_COUNT must be positive")
	}
	if c.FieldCacheSize < 1 {
		return errors.New("FIELD_CACHE_SIZE must be positive")
	}
	if c.Variable == "" {
		return errors.New("VARIABLE is required")
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
		}
		if c.KafkaTopic == "" {
			return errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is empty")
		}
	}
	return nil
}

// HindcastYears lists every year of the reference period in order.
func (c *Config) HindcastYears() []int {
	years := make([]int, 0, c.HindcastEndYear-c.HindcastStartYear+1)
	for y := c.HindcastStartYear; y <= c.HindcastEndYear; y++ {
		years = append(years, y)
	}
	return years
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseYears(s string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid FORECAST_YEARS entry %q: %w", part, err)
		}
		years = append(years, y)
	}
	return years, nil
}
