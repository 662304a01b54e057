package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment overrides applied on top of the config file.
const (
	EnvEmail       = "GRABBER_EMAIL"
	EnvPassword    = "GRABBER_PASSWORD"
	EnvDownloadDir = "GRABBER_DOWNLOAD_DIR"
	EnvChunkSize   = "GRABBER_CHUNK_SIZE"
)

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// EnvInt parses key as an int. ok is false when the variable is unset.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// ApplyEnv overrides credentials and download settings from the environment.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString(EnvEmail); ok {
		c.Email = v
	}
	if v, ok := EnvString(EnvPassword); ok {
		c.Password = v
	}
	if v, ok := EnvString(EnvDownloadDir); ok {
		c.DownloadDir = v
	}
	if v, ok, err := EnvInt(EnvChunkSize); err != nil {
		return err
	} else if ok {
		c.ChunkSize = v
	}
	return nil
}
