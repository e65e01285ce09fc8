package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-photo-cropper/pkg/models"

	"github.com/pelletier/go-toml/v2"
)

// Output backends
const (
	BackendLocal = "local"
	BackendAzure = "azure"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	ImageFetchTimeout  time.Duration
	ProcessingTimeout  time.Duration
	MaxRequestBodySize int64

	// Larger decoded dimension is capped at this many pixels
	MaxImageDimension int
	// Sources with more pixels than this are rejected before decoding
	MaxSourcePixels int64
	CropAspectRatio models.AspectRatio

	// Gallery and file references must resolve inside one of these, the work
	// directory or the output directory
	GalleryDirs    []string
	WorkDir        string
	OutputDir      string
	OutputPrefix   string
	OutputBackend  string
	AllowedSources []models.Source

	Workers         int
	FlowIdleTimeout time.Duration

	AzureAccountName     string
	AzureAccountKey      string
	AzureOutputContainer string

	LogLevel string
}

// fileConfig mirrors Config for the optional TOML file
type fileConfig struct {
	Host                 string   `toml:"host"`
	Port                 string   `toml:"port"`
	RequestTimeout       string   `toml:"request_timeout"`
	ImageFetchTimeout    string   `toml:"image_fetch_timeout"`
	ProcessingTimeout    string   `toml:"processing_timeout"`
	MaxRequestBodySize   int64    `toml:"max_request_body_size"`
	MaxImageDimension    int      `toml:"max_image_dimension"`
	MaxSourcePixels      int64    `toml:"max_source_pixels"`
	CropAspectRatio      string   `toml:"crop_aspect_ratio"`
	GalleryDirs          []string `toml:"gallery_dirs"`
	WorkDir              string   `toml:"work_dir"`
	OutputDir            string   `toml:"output_dir"`
	OutputPrefix         string   `toml:"output_prefix"`
	OutputBackend        string   `toml:"output_backend"`
	AllowedSources       []string `toml:"allowed_sources"`
	Workers              int      `toml:"workers"`
	FlowIdleTimeout      string   `toml:"flow_idle_timeout"`
	AzureAccountName     string   `toml:"azure_storage_account"`
	AzureOutputContainer string   `toml:"azure_output_container"`
	LogLevel             string   `toml:"log_level"`
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// FileRoots lists the directories file references may resolve into
func (c *Config) FileRoots() []string {
	roots := make([]string, 0, len(c.GalleryDirs)+2)
	roots = append(roots, c.GalleryDirs...)
	return append(roots, c.WorkDir, c.OutputDir)
}

// AzureEnabled reports whether blob storage credentials are configured
func (c *Config) AzureEnabled() bool {
	return c.AzureAccountName != "" && c.AzureAccountKey != ""
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Host:                 "0.0.0.0",
		Port:                 "8080",
		RequestTimeout:       30 * time.Second,
		ImageFetchTimeout:    15 * time.Second,
		ProcessingTimeout:    20 * time.Second,
		MaxRequestBodySize:   20 * 1024 * 1024, // 20MB
		MaxImageDimension:    1024,
		MaxSourcePixels:      100_000_000,
		CropAspectRatio:      models.DefaultAspectRatio,
		GalleryDirs:          defaultGalleryDirs(),
		WorkDir:              filepath.Join(os.TempDir(), "photo-cropper"),
		OutputDir:            defaultOutputDir(),
		OutputPrefix:         "IMG",
		OutputBackend:        BackendLocal,
		AllowedSources:       []models.Source{models.SourceCamera, models.SourceGallery, models.SourceFile},
		Workers:              0, // Use default CPU count
		FlowIdleTimeout:      30 * time.Minute,
		AzureOutputContainer: "downloads",
		LogLevel:             "info",
	}
}

// LoadFromEnv builds the configuration from defaults, the TOML file named by
// CONFIG_FILE (if any) and the environment, in increasing precedence.
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Host = getEnvOrDefault("HOST", cfg.Host)
	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ImageFetchTimeout = parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", cfg.ImageFetchTimeout)
	cfg.ProcessingTimeout = parseDurationOrDefault("PROCESSING_TIMEOUT", cfg.ProcessingTimeout)
	cfg.MaxRequestBodySize = parseIntOrDefault("MAX_REQUEST_BODY_SIZE", cfg.MaxRequestBodySize)
	cfg.MaxImageDimension = int(parseIntOrDefault("MAX_IMAGE_DIMENSION", int64(cfg.MaxImageDimension)))
	cfg.MaxSourcePixels = parseIntOrDefault("MAX_SOURCE_PIXELS", cfg.MaxSourcePixels)
	cfg.WorkDir = getEnvOrDefault("WORK_DIR", cfg.WorkDir)
	cfg.OutputDir = getEnvOrDefault("OUTPUT_DIR", cfg.OutputDir)
	cfg.OutputPrefix = getEnvOrDefault("OUTPUT_PREFIX", cfg.OutputPrefix)
	cfg.OutputBackend = strings.ToLower(getEnvOrDefault("OUTPUT_BACKEND", cfg.OutputBackend))
	cfg.Workers = int(parseIntOrDefault("WORKERS", int64(cfg.Workers)))
	cfg.FlowIdleTimeout = parseDurationOrDefault("FLOW_IDLE_TIMEOUT", cfg.FlowIdleTimeout)
	cfg.AzureAccountName = getEnvOrDefault("AZURE_STORAGE_ACCOUNT", cfg.AzureAccountName)
	cfg.AzureAccountKey = getEnvOrDefault("AZURE_STORAGE_KEY", cfg.AzureAccountKey)
	cfg.AzureOutputContainer = getEnvOrDefault("AZURE_OUTPUT_CONTAINER", cfg.AzureOutputContainer)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)

	if value := os.Getenv("CROP_ASPECT_RATIO"); value != "" {
		ratio, err := models.ParseAspectRatio(value)
		if err != nil {
			return nil, fmt.Errorf("invalid CROP_ASPECT_RATIO: %w", err)
		}
		cfg.CropAspectRatio = ratio
	}
	if value := os.Getenv("GALLERY_DIRS"); value != "" {
		cfg.GalleryDirs = splitList(value, string(os.PathListSeparator))
	}
	if value := os.Getenv("ALLOWED_SOURCES"); value != "" {
		sources, err := parseSources(strings.Split(value, ","))
		if err != nil {
			return nil, fmt.Errorf("invalid ALLOWED_SOURCES: %w", err)
		}
		cfg.AllowedSources = sources
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.ImageFetchTimeout <= 0 || c.ProcessingTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s, processing=%s)",
			c.RequestTimeout, c.ImageFetchTimeout, c.ProcessingTimeout)
	}
	if c.MaxImageDimension < 16 {
		return fmt.Errorf("MAX_IMAGE_DIMENSION must be >= 16 (got %d)", c.MaxImageDimension)
	}
	if c.MaxSourcePixels <= 0 {
		return fmt.Errorf("MAX_SOURCE_PIXELS must be > 0 (got %d)", c.MaxSourcePixels)
	}
	if strings.TrimSpace(c.WorkDir) == "" || strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("WORK_DIR and OUTPUT_DIR must not be empty")
	}
	if strings.TrimSpace(c.OutputPrefix) == "" || strings.ContainsAny(c.OutputPrefix, `/\`) {
		return fmt.Errorf("invalid OUTPUT_PREFIX: %q", c.OutputPrefix)
	}
	switch c.OutputBackend {
	case BackendLocal:
	case BackendAzure:
		if !c.AzureEnabled() {
			return fmt.Errorf("OUTPUT_BACKEND=azure requires AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY")
		}
	default:
		return fmt.Errorf("invalid OUTPUT_BACKEND: %q", c.OutputBackend)
	}
	if len(c.AllowedSources) == 0 {
		return fmt.Errorf("ALLOWED_SOURCES must name at least one source")
	}
	if c.FlowIdleTimeout <= 0 {
		return fmt.Errorf("FLOW_IDLE_TIMEOUT must be > 0 (got %s)", c.FlowIdleTimeout)
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.Host, fc.Host)
	setString(&c.Port, fc.Port)
	setString(&c.WorkDir, fc.WorkDir)
	setString(&c.OutputDir, fc.OutputDir)
	setString(&c.OutputPrefix, fc.OutputPrefix)
	setString(&c.OutputBackend, strings.ToLower(fc.OutputBackend))
	setString(&c.AzureAccountName, fc.AzureAccountName)
	setString(&c.AzureOutputContainer, fc.AzureOutputContainer)
	setString(&c.LogLevel, fc.LogLevel)

	if fc.MaxRequestBodySize > 0 {
		c.MaxRequestBodySize = fc.MaxRequestBodySize
	}
	if fc.MaxImageDimension > 0 {
		c.MaxImageDimension = fc.MaxImageDimension
	}
	if fc.MaxSourcePixels > 0 {
		c.MaxSourcePixels = fc.MaxSourcePixels
	}
	if fc.Workers > 0 {
		c.Workers = fc.Workers
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"request_timeout", fc.RequestTimeout, &c.RequestTimeout},
		{"image_fetch_timeout", fc.ImageFetchTimeout, &c.ImageFetchTimeout},
		{"processing_timeout", fc.ProcessingTimeout, &c.ProcessingTimeout},
		{"flow_idle_timeout", fc.FlowIdleTimeout, &c.FlowIdleTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return fmt.Errorf("invalid %s in config file: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if fc.CropAspectRatio != "" {
		ratio, err := models.ParseAspectRatio(fc.CropAspectRatio)
		if err != nil {
			return fmt.Errorf("invalid crop_aspect_ratio in config file: %w", err)
		}
		c.CropAspectRatio = ratio
	}
	if len(fc.GalleryDirs) > 0 {
		c.GalleryDirs = trimList(fc.GalleryDirs)
	}
	if len(fc.AllowedSources) > 0 {
		sources, err := parseSources(fc.AllowedSources)
		if err != nil {
			return fmt.Errorf("invalid allowed_sources in config file: %w", err)
		}
		c.AllowedSources = sources
	}
	return nil
}

func parseSources(values []string) ([]models.Source, error) {
	sources := make([]models.Source, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		src, err := models.ParseSource(v)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func splitList(value, sep string) []string {
	return trimList(strings.Split(value, sep))
}

func trimList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func defaultGalleryDirs() []string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return []string{filepath.Join(home, "Pictures")}
	}
	return nil
}

func defaultOutputDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "Downloads")
	}
	return "downloads"
}

func setString(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
