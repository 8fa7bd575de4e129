package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const defaultEnvFile = ".env"

var (
	mu          sync.RWMutex
	envFilePath string
)

// SetEnvPath sets the env file read by New. An empty path falls back to
// ./.env when present.
func SetEnvPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	envFilePath = strings.TrimSpace(path)
}

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// New loads the env file into the process environment, then fills T from
// variables named PREFIX_FIELD.
func New[T any](prefix string) (*T, error) {
	if err := loadEnvFile(resolveEnvPath()); err != nil {
		return nil, err
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("config %s: %w", prefix, err)
	}
	return &conf, nil
}

func resolveEnvPath() string {
	mu.RLock()
	defer mu.RUnlock()
	return envFilePath
}

// loadEnvFile exports KEY=value pairs from path. Variables already present in
// the environment keep their value. A missing default file is not an error;
// a missing explicit one is.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return nil
	case err != nil:
		return fmt.Errorf("failed to load env file: %w", err)
	case info.IsDir():
		if explicit {
			return fmt.Errorf("failed to load env file: %s is a directory", path)
		}
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}
