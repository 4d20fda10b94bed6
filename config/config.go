package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Config holds the application configuration
type Config struct {
	ServerAddress string                 `yaml:"server_address"` // Host used in preview URLs
	PublicScheme  string                 `yaml:"public_scheme"`
	DatabasePath  string                 `yaml:"database_path"`
	ProjectsDir   string                 `yaml:"projects_dir"` // Root of materialized project directories
	Log           LogConfig              `yaml:"log"`
	Metrics       MetricsConfig          `yaml:"metrics"`
	Providers     ProvidersConfig        `yaml:"providers"`
	Runtime       RuntimeConfig          `yaml:"runtime"`
	Generation    GenerationConfig       `yaml:"generation"`
	Proxy         ProxyConfig            `yaml:"proxy"`
	Cloudflare    types.CloudflareConfig `yaml:"cloudflare"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	Address string `yaml:"address"` // Empty disables the metrics listener
}

// ProvidersConfig describes the failover chain and each provider's credentials.
type ProvidersConfig struct {
	Priority  []string          `yaml:"priority"` // Failover order when no provider is pinned
	Models    map[string]string `yaml:"models"`   // Model name -> provider name
	OpenAI    ProviderConfig    `yaml:"openai"`
	Anthropic ProviderConfig    `yaml:"anthropic"`
	Gemini    ProviderConfig    `yaml:"gemini"`
}

type ProviderConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxTokens         int           `yaml:"max_tokens"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// RuntimeConfig configures the container lifecycle manager.
type RuntimeConfig struct {
	DockerEnabled  bool          `yaml:"docker_enabled"`
	PortBase       int           `yaml:"port_base"`
	PortWindow     int           `yaml:"port_window"`
	RandomFallback bool          `yaml:"random_fallback"`
	BuildTimeout   time.Duration `yaml:"build_timeout"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
	ImagePrefix    string        `yaml:"image_prefix"`
}

type GenerationConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ProxyConfig struct {
	Address       string        `yaml:"address"`         // Empty disables the preview router
	BaseDomain    string        `yaml:"base_domain"`     // Subdomains of this domain are routed to previews
	WakeOnRequest bool          `yaml:"wake_on_request"` // Deploy stopped projects when a request arrives
	WakeTimeout   time.Duration `yaml:"wake_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"` // Zero keeps previews running
	IdleInterval  time.Duration `yaml:"idle_interval"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		ServerAddress: "localhost",
		PublicScheme:  "http",
		DatabasePath:  "r3kt.db",
		ProjectsDir:   "projects",
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Providers: ProvidersConfig{
			Priority: []string{"anthropic", "openai", "gemini"},
			Models: map[string]string{
				"claude-3-5-sonnet": "anthropic",
				"claude-sonnet-4":   "anthropic",
				"gpt-4o":            "openai",
				"gpt-4o-mini":       "openai",
				"gemini-1.5-pro":    "gemini",
				"gemini-2.0-flash":  "gemini",
			},
			OpenAI: ProviderConfig{
				BaseURL:           "https://api.openai.com/v1",
				Model:             "gpt-4o",
				Timeout:           120 * time.Second,
				MaxTokens:         8000,
				RequestsPerMinute: 30,
			},
			Anthropic: ProviderConfig{
				BaseURL:           "https://api.anthropic.com/v1",
				Model:             "claude-3-5-sonnet-latest",
				Timeout:           180 * time.Second,
				MaxTokens:         8000,
				RequestsPerMinute: 30,
			},
			Gemini: ProviderConfig{
				BaseURL:           "https://generativelanguage.googleapis.com/v1beta",
				Model:             "gemini-1.5-pro",
				Timeout:           90 * time.Second,
				MaxTokens:         8000,
				RequestsPerMinute: 30,
			},
		},
		Runtime: RuntimeConfig{
			DockerEnabled:  true,
			PortBase:       3100,
			PortWindow:     900,
			RandomFallback: true,
			BuildTimeout:   5 * time.Minute,
			RunTimeout:     time.Minute,
			StopTimeout:    10 * time.Second,
			ImagePrefix:    "r3kt-preview",
		},
		Generation: GenerationConfig{
			Workers:      4,
			QueueSize:    64,
			PollInterval: 2 * time.Second,
		},
		Proxy: ProxyConfig{
			Address:       ":8080",
			WakeOnRequest: true,
			WakeTimeout:   5 * time.Minute,
			IdleTimeout:   30 * time.Minute,
			IdleInterval:  time.Minute,
		},
		Cloudflare: types.CloudflareConfig{
			Enabled:      false,
			AutoGenerate: true,
		},
	}
}

// LoadConfig loads configuration from a file or environment variables
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(&config, configPath); err != nil {
			return config, err
		}
	}

	overrideFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("validate config: %w", err)
	}
	return config, nil
}

// loadFromFile loads configuration from a YAML file on top of the defaults
func loadFromFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv(config *Config) {
	if val := os.Getenv("R3KT_SERVER_ADDRESS"); val != "" {
		config.ServerAddress = val
	}
	if val := os.Getenv("R3KT_DATABASE_PATH"); val != "" {
		config.DatabasePath = val
	}
	if val := os.Getenv("R3KT_PROJECTS_DIR"); val != "" {
		config.ProjectsDir = val
	}
	if val := os.Getenv("R3KT_LOG_LEVEL"); val != "" {
		config.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("R3KT_METRICS_ADDRESS"); val != "" {
		config.Metrics.Address = ensurePortFormat(val)
	}
	if val := os.Getenv("R3KT_PROXY_ADDRESS"); val != "" {
		config.Proxy.Address = ensurePortFormat(val)
	}
	if val := os.Getenv("R3KT_PROXY_BASE_DOMAIN"); val != "" {
		config.Proxy.BaseDomain = val
	}
	if val := os.Getenv("R3KT_PROXY_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Proxy.IdleTimeout = d
		}
	}

	// Providers
	if val := os.Getenv("R3KT_PROVIDER_PRIORITY"); val != "" {
		config.Providers.Priority = splitList(val)
	}
	if val := firstEnv("R3KT_OPENAI_API_KEY", "OPENAI_API_KEY"); val != "" {
		config.Providers.OpenAI.APIKey = val
	}
	if val := firstEnv("R3KT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"); val != "" {
		config.Providers.Anthropic.APIKey = val
	}
	if val := firstEnv("R3KT_GEMINI_API_KEY", "GEMINI_API_KEY"); val != "" {
		config.Providers.Gemini.APIKey = val
	}

	// Runtime
	if val := os.Getenv("R3KT_DOCKER_ENABLED"); val != "" {
		config.Runtime.DockerEnabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("R3KT_PORT_BASE"); val != "" {
		if port, err := parseEnvInt(val); err == nil {
			config.Runtime.PortBase = port
		}
	}
	if val := os.Getenv("R3KT_PORT_WINDOW"); val != "" {
		if window, err := parseEnvInt(val); err == nil {
			config.Runtime.PortWindow = window
		}
	}
	if val := os.Getenv("R3KT_GENERATION_WORKERS"); val != "" {
		if workers, err := parseEnvInt(val); err == nil {
			config.Generation.Workers = workers
		}
	}

	// Cloudflare settings
	if val := os.Getenv("R3KT_CLOUDFLARE_ENABLED"); val != "" {
		config.Cloudflare.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("R3KT_CLOUDFLARE_API_TOKEN"); val != "" {
		config.Cloudflare.APIToken = val
	}
	if val := os.Getenv("R3KT_CLOUDFLARE_ZONE_ID"); val != "" {
		config.Cloudflare.ZoneID = val
	}
	if val := os.Getenv("R3KT_CLOUDFLARE_BASE_DOMAIN"); val != "" {
		config.Cloudflare.BaseDomain = val
	}
	if val := os.Getenv("R3KT_CLOUDFLARE_AUTO_GENERATE"); val != "" {
		config.Cloudflare.AutoGenerate = strings.ToLower(val) == "true"
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Runtime.PortBase <= 0 || c.Runtime.PortBase > 65535 {
		return fmt.Errorf("runtime.port_base must be a valid port, got %d", c.Runtime.PortBase)
	}
	if c.Runtime.PortWindow < 1 {
		return fmt.Errorf("runtime.port_window must be positive, got %d", c.Runtime.PortWindow)
	}
	if c.Runtime.PortBase+c.Runtime.PortWindow > 65536 {
		return fmt.Errorf("runtime port range %d+%d exceeds 65535", c.Runtime.PortBase, c.Runtime.PortWindow)
	}
	if c.Generation.Workers < 1 {
		return fmt.Errorf("generation.workers must be at least 1")
	}
	if c.Proxy.IdleTimeout > 0 && c.Proxy.IdleInterval <= 0 {
		return fmt.Errorf("proxy.idle_interval must be positive when proxy.idle_timeout is set")
	}
	if c.ProjectsDir == "" {
		return fmt.Errorf("projects_dir is required")
	}
	for model, provider := range c.Providers.Models {
		if !knownProvider(provider) {
			return fmt.Errorf("providers.models.%s refers to unknown provider %q", model, provider)
		}
	}
	for _, name := range c.Providers.Priority {
		if !knownProvider(name) {
			return fmt.Errorf("providers.priority contains unknown provider %q", name)
		}
	}
	if c.Cloudflare.Enabled {
		if c.Cloudflare.APIToken == "" || c.Cloudflare.ZoneID == "" || c.Cloudflare.BaseDomain == "" {
			return fmt.Errorf("cloudflare.api_token, zone_id and base_domain are required when cloudflare is enabled")
		}
	}
	return nil
}

func knownProvider(name string) bool {
	switch name {
	case "openai", "anthropic", "gemini":
		return true
	}
	return false
}

// ensurePortFormat ensures port is in the format ":8080"
func ensurePortFormat(port string) string {
	port = strings.TrimSpace(port)
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

// parseEnvInt parses an integer from an environment variable
func parseEnvInt(val string) (int, error) {
	var result int
	if _, err := fmt.Sscanf(val, "%d", &result); err != nil {
		return 0, err
	}
	return result, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
