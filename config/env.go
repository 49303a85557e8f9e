package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}

	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(strings.TrimSpace(getEnv(key, ""))); err == nil {
		return value
	}

	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(getEnv(key, "")))
	if err != nil {
		return fallback
	}

	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(strings.TrimSpace(getEnv(key, ""))); err == nil {
		return value
	}

	return fallback
}

// getEnvAsList splits a comma-separated value, dropping empty items.
func getEnvAsList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return append([]string(nil), fallback...)
	}

	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}

	return list
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
