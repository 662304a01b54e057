package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/aluiziolira/go-grab-ebooks/models"
)

// Config holds grabber configuration.
type Config struct {
	BaseURL          string
	Email            string
	Password         string
	DownloadDir      string
	Formats          []models.Format
	Titles           []string
	MetadataLogPath  string
	MetadataFormat   string // text, json, or dual
	ChunkSize        int
	Timeout          time.Duration
	DownloadTimeout  time.Duration // longest silence tolerated while streaming a file
	UserAgent        string
	CloudflareBypass bool

	Drive DriveConfig
	Mail  MailConfig
}

// DriveConfig is the GOOGLE_DRIVE_DATA section.
type DriveConfig struct {
	AppName          string
	FolderName       string
	ClientSecretPath string
	TokenDir         string
}

// MailConfig is the MAIL section.
type MailConfig struct {
	Host         string
	Port         int
	Password     string
	From         string
	To           []string
	KindleEmails []string
}

// DefaultConfig returns the defaults applied under whatever the file sets.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://www.packtpub.com",
		DownloadDir:     ".",
		Formats:         append([]models.Format(nil), models.AllFormats...),
		MetadataLogPath: "eBookMetadata.log",
		MetadataFormat:  "text",
		ChunkSize:       64 * 1024,
		Timeout:         10 * time.Second,
		DownloadTimeout: 100 * time.Second,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		Drive: DriveConfig{
			ClientSecretPath: "client_secret.json",
			TokenDir:         ".credentials",
		},
		Mail: MailConfig{
			Port: 587,
		},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.Email == "" {
		return fmt.Errorf("login email cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("login password cannot be empty")
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("download folder path cannot be empty")
	}
	info, err := os.Stat(c.DownloadDir)
	if err != nil {
		return fmt.Errorf("download folder path %q doesn't exist: %w", c.DownloadDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("download folder path %q is not a directory", c.DownloadDir)
	}
	for _, f := range c.Formats {
		if !f.Known() {
			return fmt.Errorf("unknown download format %q", f)
		}
	}
	if c.MetadataFormat != "text" && c.MetadataFormat != "json" && c.MetadataFormat != "dual" {
		return fmt.Errorf("metadata format must be text, json, or dual")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// ValidateDrive checks the fields needed to upload to Google Drive.
func (c *Config) ValidateDrive() error {
	if c.Drive.AppName == "" {
		return fmt.Errorf("google drive app name cannot be empty")
	}
	if c.Drive.FolderName == "" {
		return fmt.Errorf("google drive folder name cannot be empty")
	}
	if c.Drive.ClientSecretPath == "" {
		return fmt.Errorf("google drive client secret path cannot be empty")
	}
	return nil
}

// ValidateMail checks the fields needed to send mail.
func (c *Config) ValidateMail() error {
	if c.Mail.Host == "" {
		return fmt.Errorf("smtp host cannot be empty")
	}
	if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
		return fmt.Errorf("smtp port must be between 1 and 65535")
	}
	if c.Mail.From == "" {
		return fmt.Errorf("need a sender email")
	}
	if len(c.Mail.To) == 0 {
		return fmt.Errorf("need one or more recipient emails")
	}
	return nil
}
