package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"m3u-catalog/work/types"
)

// DefaultPath is where the config file is looked up when no -config flag is given.
const DefaultPath = "/settings/config.json"

// Config holds all application configuration for a catalog import.
type Config struct {
	LogLevel              string          `json:"logLevel"`              // DEBUG, INFO, WARN or ERROR
	Debug                 bool            `json:"debug"`                 // Forces DEBUG logging
	ObfuscateUrls         bool            `json:"obfuscateUrls"`         // Mask playlist URLs in logs
	WorkerThreads         int             `json:"workerThreads"`         // Concurrent source fetches
	OutputPath            string          `json:"outputPath"`            // Catalog JSON file
	BackupEnabled         bool            `json:"backupEnabled"`         // Copy the prior catalog to <outputPath>.backup
	ReportPath            string          `json:"reportPath"`            // Broken stream report, empty disables it
	DefaultCategory       string          `json:"defaultCategory"`       // Label used when a group-title cleans to nothing
	UserAgent             string          `json:"userAgent"`             // Default User-Agent for playlist fetches
	FetchTimeout          time.Duration   `json:"fetchTimeout"`          // Per playlist fetch
	ImportRefreshInterval time.Duration   `json:"importRefreshInterval"` // Re-import period in serve mode
	PreferredLanguage     string          `json:"preferredLanguage"`     // Channels of this language are ordered first
	Sources               []SourceConfig  `json:"sources"`
	Normalize             NormalizeConfig `json:"normalize"`
	Policy                PolicyConfig    `json:"policy"`
	Probe                 ProbeConfig     `json:"probe"`
	Serve                 ServeConfig     `json:"serve"`
	ExtraChannels         []types.Channel `json:"extraChannels"` // Hand-curated entries appended to every import
}

// SourceConfig describes one playlist to ingest.
type SourceConfig struct {
	Name              string `json:"name"`
	URL               string `json:"url"`                         // http(s) URL or local file path
	UserAgent         string `json:"userAgent"`                   // Overrides Config.UserAgent
	ReqOrigin         string `json:"reqOrigin"`                   // Origin header
	ReqReferrer       string `json:"reqReferrer"`                 // Referer header
	ProviderPrefix    string `json:"providerPrefix"`              // Branding prefix stripped from group-title
	GroupIncludeRegex string `json:"groupIncludeRegex,omitempty"` // Raw group-title must match
	GroupExcludeRegex string `json:"groupExcludeRegex,omitempty"` // Raw group-title must not match
	NameIncludeRegex  string `json:"nameIncludeRegex,omitempty"`
	NameExcludeRegex  string `json:"nameExcludeRegex,omitempty"`
}

// NormalizeConfig holds the category/name cleaning tables.
type NormalizeConfig struct {
	ProviderPrefixes []string             `json:"providerPrefixes"` // Applied to every source, in addition to SourceConfig.ProviderPrefix
	NamePrefixes     []string             `json:"namePrefixes"`     // Regex fragments stripped from the start of channel names
	StripSuffixes    []string             `json:"stripSuffixes"`    // Literal suffixes stripped from group-title
	LanguageRules    []LanguageRuleConfig `json:"languageRules"`
}

// LanguageRuleConfig rewrites a category when a language signal is present.
type LanguageRuleConfig struct {
	Language   string   `json:"language"`   // e.g. "Hindi"
	Keywords   []string `json:"keywords"`   // Extra name/category terms signalling the language
	Categories []string `json:"categories"` // Normalized categories the rule applies to, empty means all
	Label      string   `json:"label"`      // Result label, empty means "<Language> <Category>"
}

// PolicyConfig holds the allow/deny tables of the policy filter.
type PolicyConfig struct {
	ForbiddenLanguages []string `json:"forbiddenLanguages"`
	ForbiddenKeywords  []string `json:"forbiddenKeywords"`
	AllowedGenres      []string `json:"allowedGenres"`
	AllowedLanguages   []string `json:"allowedLanguages"`
}

// ProbeConfig controls the reachability prober.
type ProbeConfig struct {
	Enabled     bool          `json:"enabled"`
	Concurrency int           `json:"concurrency"` // Batch size and worker count
	Timeout     time.Duration `json:"timeout"`     // Per request
	UserAgent   string        `json:"userAgent"`   // Used when a channel carries none
	RatePerHost int           `json:"ratePerHost"` // Requests per second per host, 0 disables limiting
	FallbackGET bool          `json:"fallbackGET"` // Retry as GET when HEAD is rejected with 405/501
}

// ServeConfig controls the read-side HTTP server.
type ServeConfig struct {
	Addr              string        `json:"addr"`
	CatalogURL        string        `json:"catalogURL"` // Remote catalog to serve instead of OutputPath
	MaxAge            time.Duration `json:"maxAge"`     // Cache lifetime of the loaded catalog view
	AllowedCategories []string      `json:"allowedCategories"`
}

// ConfigFile is the on-disk JSON shape. Durations are strings ("5s", "12h").
type ConfigFile struct {
	LogLevel              string          `json:"logLevel"`
	Debug                 bool            `json:"debug"`
	ObfuscateUrls         bool            `json:"obfuscateUrls"`
	WorkerThreads         int             `json:"workerThreads"`
	OutputPath            string          `json:"outputPath"`
	BackupEnabled         *bool           `json:"backupEnabled"`
	ReportPath            string          `json:"reportPath"`
	DefaultCategory       string          `json:"defaultCategory"`
	UserAgent             string          `json:"userAgent"`
	FetchTimeout          string          `json:"fetchTimeout"`
	ImportRefreshInterval string          `json:"importRefreshInterval"`
	PreferredLanguage     string          `json:"preferredLanguage"`
	Sources               []SourceConfig  `json:"sources"`
	Normalize             NormalizeConfig `json:"normalize"`
	Policy                PolicyConfig    `json:"policy"`
	Probe                 ProbeConfigFile `json:"probe"`
	Serve                 ServeConfigFile `json:"serve"`
	ExtraChannels         []types.Channel `json:"extraChannels"`
}

type ProbeConfigFile struct {
	Enabled     bool   `json:"enabled"`
	Concurrency int    `json:"concurrency"`
	Timeout     string `json:"timeout"`
	UserAgent   string `json:"userAgent"`
	RatePerHost int    `json:"ratePerHost"`
	FallbackGET *bool  `json:"fallbackGET"`
}

type ServeConfigFile struct {
	Addr              string   `json:"addr"`
	CatalogURL        string   `json:"catalogURL"`
	MaxAge            string   `json:"maxAge"`
	AllowedCategories []string `json:"allowedCategories"`
}

// LoadConfig reads the config file at path. A missing file yields the
// default configuration; an unreadable or invalid file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("Config file %s not found, falling back to default configuration", path)
		cfg = getDefaultConfig()
	} else if err != nil {
		return nil, err
	}

	validateAndSetDefaults(cfg)
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON %s: %w", path, err)
	}

	return convertFromFile(&configFile)
}

// parseDuration treats an empty string as "unset" so defaults can apply.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, nil
}

func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		LogLevel:          cf.LogLevel,
		Debug:             cf.Debug,
		ObfuscateUrls:     cf.ObfuscateUrls,
		WorkerThreads:     cf.WorkerThreads,
		OutputPath:        cf.OutputPath,
		BackupEnabled:     true,
		ReportPath:        cf.ReportPath,
		DefaultCategory:   cf.DefaultCategory,
		UserAgent:         cf.UserAgent,
		PreferredLanguage: cf.PreferredLanguage,
		Sources:           cf.Sources,
		Normalize:         cf.Normalize,
		Policy:            cf.Policy,
		ExtraChannels:     cf.ExtraChannels,
		Probe: ProbeConfig{
			Enabled:     cf.Probe.Enabled,
			Concurrency: cf.Probe.Concurrency,
			UserAgent:   cf.Probe.UserAgent,
			RatePerHost: cf.Probe.RatePerHost,
			FallbackGET: true,
		},
		Serve: ServeConfig{
			Addr:              cf.Serve.Addr,
			CatalogURL:        cf.Serve.CatalogURL,
			AllowedCategories: cf.Serve.AllowedCategories,
		},
	}
	if cf.BackupEnabled != nil {
		cfg.BackupEnabled = *cf.BackupEnabled
	}
	if cf.Probe.FallbackGET != nil {
		cfg.Probe.FallbackGET = *cf.Probe.FallbackGET
	}

	var err error
	if cfg.FetchTimeout, err = parseDuration("fetchTimeout", cf.FetchTimeout); err != nil {
		return nil, err
	}
	if cfg.ImportRefreshInterval, err = parseDuration("importRefreshInterval", cf.ImportRefreshInterval); err != nil {
		return nil, err
	}
	if cfg.Probe.Timeout, err = parseDuration("probe.timeout", cf.Probe.Timeout); err != nil {
		return nil, err
	}
	if cfg.Serve.MaxAge, err = parseDuration("serve.maxAge", cf.Serve.MaxAge); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getDefaultConfig() *Config {
	return &Config{
		LogLevel:              "INFO",
		WorkerThreads:         4,
		OutputPath:            "assets/channels.json",
		BackupEnabled:         true,
		DefaultCategory:       "General",
		UserAgent:             DefaultFetchUserAgent,
		FetchTimeout:          30 * time.Second,
		ImportRefreshInterval: 12 * time.Hour,
		Sources:               []SourceConfig{},
		Probe: ProbeConfig{
			Concurrency: 10,
			Timeout:     5 * time.Second,
			UserAgent:   DefaultProbeUserAgent,
			FallbackGET: true,
		},
		Serve: ServeConfig{
			Addr:   ":8080",
			MaxAge: 5 * time.Minute,
		},
	}
}

const (
	DefaultFetchUserAgent = "TiviMate/4.7.0"
	DefaultProbeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// validateAndSetDefaults fills in defaults for missing or invalid values.
func validateAndSetDefaults(cfg *Config) {
	if cfg.Debug {
		cfg.LogLevel = "DEBUG"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 4
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = "assets/channels.json"
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = "General"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultFetchUserAgent
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.ImportRefreshInterval <= 0 {
		cfg.ImportRefreshInterval = 12 * time.Hour
	}
	if cfg.Probe.Concurrency <= 0 {
		cfg.Probe.Concurrency = 10
	}
	if cfg.Probe.Timeout <= 0 {
		cfg.Probe.Timeout = 5 * time.Second
	}
	if cfg.Probe.UserAgent == "" {
		cfg.Probe.UserAgent = DefaultProbeUserAgent
	}
	if cfg.Probe.RatePerHost < 0 {
		cfg.Probe.RatePerHost = 0
	}
	if cfg.Serve.Addr == "" {
		cfg.Serve.Addr = ":8080"
	}
	if cfg.Serve.MaxAge <= 0 {
		cfg.Serve.MaxAge = 5 * time.Minute
	}

	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Name == "" {
			src.Name = fmt.Sprintf("Source_%d", i+1)
		}
		if src.UserAgent == "" {
			src.UserAgent = cfg.UserAgent
		}
	}
}

// GetSourceByName returns the source with the given name, or nil.
func (c *Config) GetSourceByName(name string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i]
		}
	}
	return nil
}

// BackupPath is the sibling file the previous catalog is copied to.
func (c *Config) BackupPath() string {
	return c.OutputPath + ".backup"
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	backup := true
	example := ConfigFile{
		LogLevel:              "INFO",
		ObfuscateUrls:         true,
		WorkerThreads:         4,
		OutputPath:            "assets/channels.json",
		BackupEnabled:         &backup,
		ReportPath:            "assets/broken-streams.json",
		DefaultCategory:       "General",
		UserAgent:             DefaultFetchUserAgent,
		FetchTimeout:          "30s",
		ImportRefreshInterval: "12h",
		PreferredLanguage:     "Marathi",
		Sources: []SourceConfig{
			{
				Name:              "Tata Play",
				URL:               "https://example.com/mx.m3u",
				ProviderPrefix:    "Tataplay",
				GroupIncludeRegex: "(?i)tataplay",
			},
			{
				Name:           "PlayboxTV",
				URL:            "assets/playboxtv.m3u8",
				ProviderPrefix: "PlayboxTV",
			},
		},
		Normalize: NormalizeConfig{
			NamePrefixes:  []string{`IN\s*[:|]\s*`, `IND\s*[:|]\s*`},
			StripSuffixes: []string{" - TV"},
			LanguageRules: []LanguageRuleConfig{
				{Language: "Hindi", Categories: []string{"Music"}},
				{Language: "Marathi", Keywords: []string{"sahyadri", "majha"}},
			},
		},
		Policy: PolicyConfig{
			ForbiddenLanguages: []string{"tamil", "telugu", "kannada", "malayalam", "punjabi"},
			ForbiddenKeywords:  []string{"devotional", "bhakti", "aastha"},
			AllowedGenres:      []string{"news", "movies", "entertainment", "kids", "sports", "music", "general"},
			AllowedLanguages:   []string{"marathi", "hindi", "english"},
		},
		Probe: ProbeConfigFile{
			Enabled:     false,
			Concurrency: 10,
			Timeout:     "5s",
			UserAgent:   DefaultProbeUserAgent,
		},
		Serve: ServeConfigFile{
			Addr:   ":8080",
			MaxAge: "5m",
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
