// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration fails validation
var ErrInvalidConfig = errors.New("invalid configuration")

// Recognition providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Workflow engines
const (
	EngineKestra = "kestra"
	EngineDBOS   = "dbos"
)

// Config is the full service configuration
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Storage     StorageConfig     `yaml:"storage"`
	Detector    DetectorConfig    `yaml:"detector"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Workflow    WorkflowConfig    `yaml:"workflow"`
	Dedupe      DedupeConfig      `yaml:"dedupe"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
	// PublicURL is the externally visible root, used in workflow links
	PublicURL string `yaml:"public_url"`
}

// StorageConfig configures upload and results directories
type StorageConfig struct {
	UploadDir   string `yaml:"upload_dir"`
	ResultsDir  string `yaml:"results_dir"`
	ResultsXLSX bool   `yaml:"results_xlsx"`
}

// DetectorConfig configures the object-detection service
type DetectorConfig struct {
	URL           string        `yaml:"url"`
	MinConfidence float64       `yaml:"min_confidence"`
	Timeout       time.Duration `yaml:"timeout"`
}

// RecognitionConfig configures batched product recognition
type RecognitionConfig struct {
	Provider         string        `yaml:"provider"`
	BatchSize        int           `yaml:"batch_size"`
	BatchTimeout     time.Duration `yaml:"batch_timeout"`
	CropMaxDimension int           `yaml:"crop_max_dimension"`
	Gemini           GeminiConfig  `yaml:"gemini"`
	OpenAI           OpenAIConfig  `yaml:"openai"`
}

// GeminiConfig configures the Gemini engine
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OpenAIConfig configures the OpenAI engine
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// WorkflowConfig configures the workflow bridge
type WorkflowConfig struct {
	Engine  string        `yaml:"engine"`
	Timeout time.Duration `yaml:"timeout"`
	Kestra  KestraConfig  `yaml:"kestra"`
	DBOS    DBOSConfig    `yaml:"dbos"`
}

// KestraConfig configures the Kestra engine
type KestraConfig struct {
	URL       string `yaml:"url"`
	UIURL     string `yaml:"ui_url"`
	Namespace string `yaml:"namespace"`
	FlowID    string `yaml:"flow_id"`
}

// DBOSConfig configures the DBOS engine
type DBOSConfig struct {
	DatabaseURL        string `yaml:"database_url"`
	QueueName          string `yaml:"queue_name"`
	ApplicationVersion string `yaml:"application_version"`
}

// DedupeConfig configures the submission ledger. Empty DatabaseURL disables it.
type DedupeConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:        ":5000",
			MaxUploadMB: 32,
		},
		Storage: StorageConfig{
			UploadDir:  "uploads",
			ResultsDir: "results",
		},
		Detector: DetectorConfig{
			URL:           "http://localhost:5001/predict",
			MinConfidence: 0.3,
			Timeout:       60 * time.Second,
		},
		Recognition: RecognitionConfig{
			Provider:         ProviderGemini,
			BatchSize:        35,
			BatchTimeout:     90 * time.Second,
			CropMaxDimension: 768,
			Gemini:           GeminiConfig{Model: "gemini-1.5-flash-8b"},
			OpenAI:           OpenAIConfig{Model: "gpt-4o-mini"},
		},
		Workflow: WorkflowConfig{
			Engine:  EngineKestra,
			Timeout: 30 * time.Second,
			Kestra: KestraConfig{
				URL:       "http://localhost:8080",
				Namespace: "product",
				FlowID:    "product-detection-workflow",
			},
			DBOS: DBOSConfig{QueueName: "default"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup
func LoadWith(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if cfg.Workflow.Kestra.UIURL == "" {
		cfg.Workflow.Kestra.UIURL = cfg.Workflow.Kestra.URL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("HTTP_ADDR", &c.HTTP.Addr)
	e.integer64("MAX_UPLOAD_MB", &c.HTTP.MaxUploadMB)
	e.str("PUBLIC_URL", &c.HTTP.PublicURL)

	e.str("UPLOAD_FOLDER", &c.Storage.UploadDir)
	e.str("RESULTS_FOLDER", &c.Storage.ResultsDir)
	e.boolean("RESULTS_XLSX", &c.Storage.ResultsXLSX)

	e.str("DETECTOR_URL", &c.Detector.URL)
	e.float("DETECTOR_MIN_CONFIDENCE", &c.Detector.MinConfidence)
	e.duration("DETECTOR_TIMEOUT", &c.Detector.Timeout)

	e.str("RECOGNITION_PROVIDER", &c.Recognition.Provider)
	e.integer("BATCH_SIZE", &c.Recognition.BatchSize)
	e.duration("BATCH_TIMEOUT", &c.Recognition.BatchTimeout)
	e.integer("CROP_MAX_DIMENSION", &c.Recognition.CropMaxDimension)
	e.str("GEMINI_API_KEY", &c.Recognition.Gemini.APIKey)
	e.str("GEMINI_MODEL", &c.Recognition.Gemini.Model)
	e.str("OPENAI_API_KEY", &c.Recognition.OpenAI.APIKey)
	e.str("OPENAI_MODEL", &c.Recognition.OpenAI.Model)
	e.str("OPENAI_BASE_URL", &c.Recognition.OpenAI.BaseURL)

	e.str("WORKFLOW_ENGINE", &c.Workflow.Engine)
	e.duration("WORKFLOW_TIMEOUT", &c.Workflow.Timeout)
	e.str("KESTRA_URL", &c.Workflow.Kestra.URL)
	e.str("KESTRA_UI_URL", &c.Workflow.Kestra.UIURL)
	e.str("WORKFLOW_NAMESPACE", &c.Workflow.Kestra.Namespace)
	e.str("WORKFLOW_FLOW_ID", &c.Workflow.Kestra.FlowID)
	e.str("DBOS_SYSTEM_DATABASE_URL", &c.Workflow.DBOS.DatabaseURL)
	e.str("DBOS_QUEUE_NAME", &c.Workflow.DBOS.QueueName)
	e.str("DBOS_APPLICATION_VERSION", &c.Workflow.DBOS.ApplicationVersion)

	e.str("DEDUPE_DATABASE_URL", &c.Dedupe.DatabaseURL)

	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(e.errs...)
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var problems []string

	if c.Recognition.BatchSize <= 0 {
		problems = append(problems, fmt.Sprintf("BATCH_SIZE must be positive, got %d", c.Recognition.BatchSize))
	}
	if c.HTTP.MaxUploadMB <= 0 {
		problems = append(problems, "MAX_UPLOAD_MB must be positive")
	}
	if c.Storage.UploadDir == "" || c.Storage.ResultsDir == "" {
		problems = append(problems, "UPLOAD_FOLDER and RESULTS_FOLDER are required")
	}
	if c.Detector.URL == "" {
		problems = append(problems, "DETECTOR_URL is required")
	}

	switch c.Recognition.Provider {
	case ProviderGemini:
		if c.Recognition.Gemini.APIKey == "" {
			problems = append(problems, "GEMINI_API_KEY is required for the gemini provider")
		}
	case ProviderOpenAI:
		if c.Recognition.OpenAI.APIKey == "" {
			problems = append(problems, "OPENAI_API_KEY is required for the openai provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown RECOGNITION_PROVIDER %q", c.Recognition.Provider))
	}

	switch c.Workflow.Engine {
	case EngineKestra:
		if c.Workflow.Kestra.URL == "" {
			problems = append(problems, "KESTRA_URL is required for the kestra engine")
		}
	case EngineDBOS:
		if c.Workflow.DBOS.DatabaseURL == "" {
			problems = append(problems, "DBOS_SYSTEM_DATABASE_URL is required for the dbos engine")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown WORKFLOW_ENGINE %q", c.Workflow.Engine))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RecognitionAPIKey returns the credential of the selected provider
func (c *Config) RecognitionAPIKey() string {
	if c.Recognition.Provider == ProviderOpenAI {
		return c.Recognition.OpenAI.APIKey
	}
	return c.Recognition.Gemini.APIKey
}

// MaxUploadBytes returns the upload size limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return c.HTTP.MaxUploadMB << 20
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, key, value, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) integer64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
