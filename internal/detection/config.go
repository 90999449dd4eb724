package detection

import (
	"fmt"
	"os"
	"strconv"

	"github.com/lehigh-university-libraries/flattener/internal/gemini"
	"github.com/lehigh-university-libraries/flattener/internal/ollama"
	"github.com/lehigh-university-libraries/flattener/internal/openai"
	"github.com/lehigh-university-libraries/flattener/internal/providers"
)

// Config selects and parameterises the corner-detection backend.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	MaxDim      int
	Temperature float64
	TopP        float64
}

// ConfigFromEnv reads the detector configuration from the environment.
// Flags passed on the command line override these values.
func ConfigFromEnv() Config {
	cfg := Config{
		Provider:    getEnv("DETECTION_PROVIDER", "openai"),
		Model:       os.Getenv("DETECTION_MODEL"),
		MaxDim:      DefaultMaxDimension,
		Temperature: 0.01,
		TopP:        0.1,
	}
	if v, err := strconv.Atoi(os.Getenv("DETECTION_MAX_DIM")); err == nil && v > 0 {
		cfg.MaxDim = v
	}
	return cfg
}

// WithDefaults fills provider-specific settings that were left empty.
func (c Config) WithDefaults() Config {
	switch c.Provider {
	case "openai":
		if c.BaseURL == "" {
			c.BaseURL = getEnv("OPENAI_BASE_URL", openai.DefaultBaseURL)
		}
		if c.APIKey == "" {
			c.APIKey = getEnv("OPENAI_API_KEY", os.Getenv("DASHSCOPE_API_KEY"))
		}
		if c.Model == "" {
			c.Model = getEnv("OPENAI_MODEL", openai.DefaultModel)
		}
	case "ollama":
		if c.BaseURL == "" {
			c.BaseURL = getEnv("OLLAMA_URL", getEnv("OLLAMA_HOST", "http://localhost:11434"))
		}
		if c.Model == "" {
			c.Model = getEnv("OLLAMA_MODEL", ollama.DefaultModel)
		}
	case "gemini":
		if c.APIKey == "" {
			c.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		if c.Model == "" {
			c.Model = getEnv("GEMINI_MODEL", gemini.DefaultModel)
		}
	case "http":
		if c.BaseURL == "" {
			c.BaseURL = os.Getenv("DETECTION_URL")
		}
	}
	if c.MaxDim <= 0 {
		c.MaxDim = DefaultMaxDimension
	}
	return c
}

// NewProvider returns the model backend named by c.Provider.
func NewProvider(c Config) (providers.Provider, error) {
	switch c.Provider {
	case "openai":
		return openai.New(c.BaseURL, c.APIKey), nil
	case "ollama":
		return ollama.New(c.BaseURL), nil
	case "gemini":
		return gemini.New(c.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", c.Provider)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
