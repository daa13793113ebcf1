// Package config normalizes raw configuration into fully-populated
// Account values. Loading itself is intentionally thin — the CLI
// onboarding wizard and the plugin host's own settings surface are
// external collaborators (spec.md §1); this package only turns whatever
// they hand us into []Account, the only shape downstream code consumes
// (Design Notes item 2).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// SecretSource records where an account's client secret came from.
type SecretSource string

const (
	SecretFromConfig SecretSource = "config"
	SecretFromFile   SecretSource = "file"
	SecretFromEnv    SecretSource = "env"
	SecretFromNone   SecretSource = "none"
)

// Account is the normalized, immutable-while-running bot account record.
type Account struct {
	ID               string
	Name             string
	Enabled          bool
	AppID            string
	ClientSecret     string
	SecretSource     SecretSource
	SystemPrompt     string
	ImageServerBase  string
	MarkdownSupport  bool
	ProxyURL         string
}

// AIConfig configures the demo reply pipeline's OpenAI-compatible chat
// backend (SPEC_FULL.md's refpipeline supplement — the spec treats the
// reply pipeline itself as an external collaborator, but this module
// ships a reference implementation so the gateway core is exercisable
// standalone).
type AIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// DatabaseConfig configures the demo reply pipeline's Postgres-backed
// chat history and relationship storage.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type rawAI struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type rawDatabase struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LoadPipelineConfig reads the "ai", "database", and "allowed_senders"
// sections of the same config document Load reads, for the optional
// demo reply pipeline. Either config return value is nil if its section
// is absent or has no API key / host configured — callers should treat
// a nil *AIConfig as "no chat backend available" and fall back to a
// degenerate pipeline. allowedSenders is empty if the section is
// absent, meaning "allow everyone".
func LoadPipelineConfig(path string) (*AIConfig, *DatabaseConfig, []string, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, herr := os.UserHomeDir(); herr == nil {
			v.AddConfigPath(home + "/.qqbot")
		}
	}
	v.SetEnvPrefix("QQBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var ai rawAI
	if err := v.UnmarshalKey("ai", &ai); err != nil {
		return nil, nil, nil, fmt.Errorf("config: unmarshal ai: %w", err)
	}
	var db rawDatabase
	if err := v.UnmarshalKey("database", &db); err != nil {
		return nil, nil, nil, fmt.Errorf("config: unmarshal database: %w", err)
	}
	allowedSenders := v.GetStringSlice("allowed_senders")

	if ai.APIKey == "" {
		ai.APIKey = os.Getenv("QQBOT_AI_API_KEY")
	}

	var aiCfg *AIConfig
	if ai.APIKey != "" {
		if ai.Model == "" {
			ai.Model = "gpt-3.5-turbo"
		}
		if ai.MaxTokens == 0 {
			ai.MaxTokens = 1024
		}
		aiCfg = &AIConfig{
			BaseURL:     ai.BaseURL,
			APIKey:      ai.APIKey,
			Model:       ai.Model,
			MaxTokens:   ai.MaxTokens,
			Temperature: ai.Temperature,
		}
	}

	var dbCfg *DatabaseConfig
	if db.Host != "" {
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
		if db.Port == 0 {
			db.Port = 5432
		}
		dbCfg = &DatabaseConfig{
			Host:     db.Host,
			Port:     db.Port,
			User:     db.User,
			Password: db.Password,
			DBName:   db.DBName,
			SSLMode:  db.SSLMode,
		}
	}

	return aiCfg, dbCfg, allowedSenders, nil
}

// raw mirrors the on-disk/viper-decoded shape before normalization.
type raw struct {
	ID              string `mapstructure:"id"`
	Name            string `mapstructure:"name"`
	Enabled         bool   `mapstructure:"enabled"`
	AppID           string `mapstructure:"app_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	SecretFile      string `mapstructure:"client_secret_file"`
	SystemPrompt    string `mapstructure:"system_prompt"`
	ImageServerBase string `mapstructure:"image_server_base"`
	MarkdownSupport bool   `mapstructure:"markdown_support"`
	ProxyURL        string `mapstructure:"proxy_url"`
}

// File is the top-level decoded config document.
type File struct {
	Accounts []raw `mapstructure:"accounts"`
}

// Load reads a config file (json/yaml/toml, viper auto-detects) plus
// QQBOT_* environment variables and returns normalized accounts. If
// path is empty, viper searches "." and "$HOME/.qqbot" for "config.*".
func Load(path string) ([]Account, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.qqbot")
		}
	}

	v.SetEnvPrefix("QQBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if len(f.Accounts) == 0 {
		// Fall back to a single default account sourced purely from env,
		// mirroring QQBOT_APP_ID/QQBOT_CLIENT_SECRET per spec.md §6.
		f.Accounts = []raw{{
			ID:           "default",
			Name:         "default",
			Enabled:      true,
			AppID:        v.GetString("app_id"),
			ClientSecret: v.GetString("client_secret"),
		}}
	}

	accounts := make([]Account, 0, len(f.Accounts))
	for _, r := range f.Accounts {
		accounts = append(accounts, normalize(r))
	}
	return accounts, nil
}

func normalize(r raw) Account {
	a := Account{
		ID:              r.ID,
		Name:            r.Name,
		Enabled:         r.Enabled,
		AppID:           r.AppID,
		SystemPrompt:    r.SystemPrompt,
		ImageServerBase: r.ImageServerBase,
		MarkdownSupport: r.MarkdownSupport,
		ProxyURL:        r.ProxyURL,
	}
	if a.Name == "" {
		a.Name = a.ID
	}

	switch {
	case r.ClientSecret != "":
		a.ClientSecret = r.ClientSecret
		a.SecretSource = SecretFromConfig
	case r.SecretFile != "":
		data, err := os.ReadFile(r.SecretFile)
		if err == nil {
			a.ClientSecret = strings.TrimSpace(string(data))
			a.SecretSource = SecretFromFile
		} else {
			a.SecretSource = SecretFromNone
		}
	default:
		if env := os.Getenv("QQBOT_CLIENT_SECRET"); env != "" && a.AppID == os.Getenv("QQBOT_APP_ID") {
			a.ClientSecret = env
			a.SecretSource = SecretFromEnv
		} else {
			a.SecretSource = SecretFromNone
		}
	}

	if a.ProxyURL == "" {
		if p := os.Getenv("HTTPS_PROXY"); p != "" {
			a.ProxyURL = p
		} else if p := os.Getenv("https_proxy"); p != "" {
			a.ProxyURL = p
		} else if p := os.Getenv("HTTP_PROXY"); p != "" {
			a.ProxyURL = p
		} else if p := os.Getenv("http_proxy"); p != "" {
			a.ProxyURL = p
		}
	}

	return a
}
