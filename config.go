package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrator/tts"
)

// envConfig holds the settings that may arrive through the environment.
// Environment values override the config file; flags override both.
type envConfig struct {
	APIKey  string  `env:"NARRATOR_API_KEY"`
	BaseURL string  `env:"NARRATOR_BASE_URL"`
	Model   string  `env:"NARRATOR_MODEL"`
	Voice   string  `env:"NARRATOR_VOICE"`
	Speed   float64 `env:"NARRATOR_SPEED"`
	Debug   bool    `env:"NARRATOR_DEBUG"`
}

func tryLoadConfigFromDefaultPlaces() {
	home, err := homedir.Dir()
	if err != nil {
		fmt.Println("Could not locate the home directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		viper.AddConfigPath(filepath.Join(c, "narrator"))
	}
	if c := os.Getenv("NARRATOR_CONFIG_HOME"); c != "" {
		viper.AddConfigPath(c)
	}
	viper.AddConfigPath(filepath.Join(home, ".config", "narrator"))

	viper.SetConfigName("narrator")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("narrator")
	viper.AutomaticEnv()

	viper.SetDefault("base_url", "")
	viper.SetDefault("model", "tts-1")
	viper.SetDefault("voice", "alloy")
	viper.SetDefault("speed", 1.0)
	viper.SetDefault("format", "wav")
	viper.SetDefault("context.enabled", false)
	viper.SetDefault("context.window", 2)
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.max_size_mb", 1024)
	viper.SetDefault("cache.max_age", "168h")
	viper.SetDefault("engine.buffer_ahead", 4)
	viper.SetDefault("engine.concurrency", 3)
	viper.SetDefault("engine.requests_per_second", 0.0)

	// Missing config file is fine; defaults and env cover everything.
	_ = viper.ReadInConfig()
}

// buildSettings merges the config file, environment, and flag values into
// one settings snapshot, in increasing precedence.
func buildSettings() (tts.Settings, error) {
	s := tts.DefaultSettings()
	s.BaseURL = viper.GetString("base_url")
	s.APIKey = viper.GetString("api_key")
	s.ModelID = viper.GetString("model")
	s.Voice = viper.GetString("voice")
	s.Speed = viper.GetFloat64("speed")
	s.Format = viper.GetString("format")
	s.ContextMode = viper.GetBool("context.enabled")
	s.ContextWindow = viper.GetInt("context.window")
	if age := viper.GetString("cache.max_age"); age != "" {
		d, err := time.ParseDuration(age)
		if err != nil {
			return s, fmt.Errorf("invalid cache.max_age %q: %w", age, err)
		}
		s.CacheMaxAge = d
	}

	ec, err := env.ParseAs[envConfig]()
	if err != nil {
		return s, fmt.Errorf("error parsing environment: %w", err)
	}
	if ec.APIKey != "" {
		s.APIKey = ec.APIKey
	}
	if ec.BaseURL != "" {
		s.BaseURL = ec.BaseURL
	}
	if ec.Model != "" {
		s.ModelID = ec.Model
	}
	if ec.Voice != "" {
		s.Voice = ec.Voice
	}
	if ec.Speed > 0 {
		s.Speed = ec.Speed
	}

	if voice != "" {
		s.Voice = voice
	}
	if speed > 0 {
		s.Speed = speed
	}
	if withContext {
		s.ContextMode = true
	}
	return s, nil
}

// engineConfigs resolves the loader and player tuning from the config
// file.
func engineConfigs() (tts.LoaderConfig, tts.PlayerConfig) {
	lc := tts.DefaultLoaderConfig()
	if n := viper.GetInt("engine.concurrency"); n > 0 {
		lc.MaxConcurrent = n
	}
	lc.RequestsPerSecond = viper.GetFloat64("engine.requests_per_second")

	pc := tts.DefaultPlayerConfig()
	if n := viper.GetInt("engine.buffer_ahead"); n > 0 {
		pc.BufferAhead = n
	}
	return lc, pc
}

// cacheDir resolves the persisted audio cache directory.
func cacheDir() (string, error) {
	if dir := viper.GetString("cache.dir"); dir != "" {
		return homedir.Expand(dir)
	}
	if c := os.Getenv("XDG_CACHE_HOME"); c != "" {
		return filepath.Join(c, "narrator"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "narrator"), nil
}
