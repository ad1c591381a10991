package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BankOptions holds the connection settings for one partner bank
type BankOptions struct {
	BaseURL      string `yaml:"baseUrl"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
}

// Configured reports whether the bank has credentials
func (b BankOptions) Configured() bool {
	return b.ClientID != "" && b.ClientSecret != ""
}

type ServerOptions struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Config holds the application configuration
type Config struct {
	RequestingBankID    string                 `yaml:"requestingBankId"`
	RequestingBankName  string                 `yaml:"requestingBankName"`
	ConsentReason       string                 `yaml:"consentReason"`
	HTTPTimeoutSeconds  int                    `yaml:"httpTimeoutSeconds"`
	TokenTimeoutSeconds int                    `yaml:"tokenTimeoutSeconds"`
	FetchTimeoutSeconds int                    `yaml:"fetchTimeoutSeconds"`
	DebugHTTP           bool                   `yaml:"debugHttp"`
	StoragePath         string                 `yaml:"storagePath"`
	Server              ServerOptions          `yaml:"server"`
	Banks               map[string]BankOptions `yaml:"banks"`
}

var (
	// Global configuration instance
	globalConfig *Config
	// Mutex to ensure thread-safe access to the global configuration
	configMutex sync.RWMutex
	// Flag to track if the configuration has been loaded
	configLoaded bool
)

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		RequestingBankID:    "team200",
		RequestingBankName:  "FinGuru App",
		ConsentReason:       "Aggregation for FinGuru",
		HTTPTimeoutSeconds:  15,
		TokenTimeoutSeconds: 5,
		FetchTimeoutSeconds: 10,
		Server: ServerOptions{
			Addr:           ":8000",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		},
		Banks: map[string]BankOptions{
			"vbank": {BaseURL: "https://vbank.open.bankingapi.ru"},
			"abank": {BaseURL: "https://abank.open.bankingapi.ru"},
			"sbank": {BaseURL: "https://sbank.open.bankingapi.ru"},
		},
	}
}

// LoadConfig loads the configuration from the specified YAML file. Values
// missing from the file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	// Read the configuration file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse the YAML data on top of the defaults
	config := Default()
	config.Banks = nil
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.normalize()
	return config, nil
}

// normalize lower-cases bank codes, fills missing base URLs and adds the
// default banks the file does not mention
func (c *Config) normalize() {
	defaults := Default().Banks
	banks := make(map[string]BankOptions, len(defaults))
	for code, opts := range defaults {
		banks[code] = opts
	}
	for code, opts := range c.Banks {
		code = strings.ToLower(strings.TrimSpace(code))
		if opts.BaseURL == "" {
			opts.BaseURL = defaults[code].BaseURL
		}
		opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
		banks[code] = opts
	}
	c.Banks = banks
}

// ApplyEnv overrides settings from the environment. A .env file in the
// working directory is read first if present; real environment variables win.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading env file: %w", err)
		}
	}

	if v := os.Getenv("REQUESTING_BANK_ID"); v != "" {
		c.RequestingBankID = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		c.StoragePath = v
	}
	if v := os.Getenv("HTTP_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_TIMEOUT_SECONDS %q: %w", v, err)
		}
		c.HTTPTimeoutSeconds = n
	}

	if c.Banks == nil {
		c.Banks = make(map[string]BankOptions)
	}
	for code, opts := range c.Banks {
		prefix := strings.ToUpper(code) + "_"
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			opts.BaseURL = strings.TrimRight(v, "/")
		}
		if v := os.Getenv(prefix + "CLIENT_ID"); v != "" {
			opts.ClientID = v
		}
		if v := os.Getenv(prefix + "CLIENT_SECRET"); v != "" {
			opts.ClientSecret = v
		}
		c.Banks[code] = opts
	}
	return nil
}

// BankCodes returns every known bank, configured or not, sorted
func (c *Config) BankCodes() []string {
	codes := make([]string, 0, len(c.Banks))
	for code := range c.Banks {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (c *Config) HTTPTimeout() time.Duration {
	return secondsOr(c.HTTPTimeoutSeconds, 15)
}

func (c *Config) TokenTimeout() time.Duration {
	return secondsOr(c.TokenTimeoutSeconds, 5)
}

func (c *Config) FetchTimeout() time.Duration {
	return secondsOr(c.FetchTimeoutSeconds, 10)
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// InitGlobalConfig initializes the global configuration from the specified file
func InitGlobalConfig(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = config
	configLoaded = true
	return nil
}

// GetConfig returns the global configuration instance.
// If the configuration hasn't been loaded yet, it attempts to load it from
// the default location (./config.yaml) and writes a default file when none exists.
func GetConfig() (*Config, error) {
	configMutex.RLock()
	if configLoaded {
		defer configMutex.RUnlock()
		return globalConfig, nil
	}
	configMutex.RUnlock()

	configPath := "config.yaml"
	if err := InitGlobalConfig(configPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		defaultConfig, err := writeDefault(configPath)
		if err != nil {
			return nil, err
		}

		configMutex.Lock()
		globalConfig = defaultConfig
		configLoaded = true
		configMutex.Unlock()

		return defaultConfig, nil
	}

	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig, nil
}

func writeDefault(configPath string) (*Config, error) {
	dir := filepath.Dir(configPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating config directory: %w", err)
		}
	}

	defaultConfig := Default()
	data, err := yaml.Marshal(defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("error creating default config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return nil, fmt.Errorf("error writing default config: %w", err)
	}
	return defaultConfig, nil
}
