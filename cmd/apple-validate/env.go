package main

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"
)

func defaultEnvPath() string {
	if path := os.Getenv("APPLE_ENV"); path != "" {
		return path
	}
	return ".env"
}

// loadEnvFile exports the variables of a dotenv file that are not already
// set in the process environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("env")
	if err := file.ReadInConfig(); err != nil {
		return err
	}
	for _, key := range file.AllKeys() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, file.GetString(key)); err != nil {
			logger.Warn("set env", "key", name, "error", err)
		}
	}
	return nil
}
