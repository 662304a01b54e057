package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/ini.v1"

	"github.com/aluiziolira/go-grab-ebooks/models"
)

// Section names of the config file.
const (
	SectionLogin      = "LOGIN_DATA"
	SectionDownload   = "DOWNLOAD_DATA"
	SectionDrive      = "GOOGLE_DRIVE_DATA"
	SectionMail       = "MAIL"
	SectionConnection = "CONNECTION"
)

// Error reports a problem with the config file itself.
type Error struct {
	Path    string
	Section string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("config %s: [%s] %s: %v", e.Path, e.Section, e.Key, e.Err)
	case e.Section != "":
		return fmt.Sprintf("config %s: [%s]: %v", e.Path, e.Section, e.Err)
	default:
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	errMissingSection = errors.New("section not found")
	errMissingKey     = errors.New("key not found")
)

// Load reads the INI file at path. LOGIN_DATA and DOWNLOAD_DATA are required;
// the other sections are read when present and checked by ValidateDrive and
// ValidateMail when the matching feature is used.
func Load(path string) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true, IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	r := reader{path: path, file: file}
	cfg := &Config{}

	cfg.Email = r.required(SectionLogin, "email")
	cfg.Password = r.required(SectionLogin, "password")

	cfg.DownloadDir = r.required(SectionDownload, "downloadFolderPath")
	cfg.Formats = models.ParseFormats(r.optional(SectionDownload, "downloadFormats"))
	cfg.Titles = splitList(r.optional(SectionDownload, "downloadBookTitles"))
	cfg.MetadataLogPath = r.optional(SectionDownload, "ebookExtraInfoLogFilePath")
	cfg.MetadataFormat = strings.ToLower(r.optional(SectionDownload, "ebookExtraInfoLogFormat"))
	cfg.ChunkSize = r.intValue(SectionDownload, "chunkSize")

	cfg.Drive.AppName = r.optional(SectionDrive, "gdAppName")
	cfg.Drive.FolderName = r.optional(SectionDrive, "gdFolderName")
	cfg.Drive.ClientSecretPath = r.optional(SectionDrive, "gdClientSecretPath")
	cfg.Drive.TokenDir = r.optional(SectionDrive, "gdTokenDir")

	cfg.Mail.Host = r.optional(SectionMail, "host")
	cfg.Mail.Port = r.intValue(SectionMail, "port")
	cfg.Mail.Password = r.optional(SectionMail, "password")
	cfg.Mail.From = r.optional(SectionMail, "email")
	cfg.Mail.To = splitList(r.optional(SectionMail, "toEmails"))
	cfg.Mail.KindleEmails = splitList(r.optional(SectionMail, "kindleEmails"))

	cfg.BaseURL = r.optional(SectionConnection, "baseUrl")
	cfg.UserAgent = r.optional(SectionConnection, "userAgent")
	cfg.Timeout = r.duration(SectionConnection, "timeout")
	cfg.DownloadTimeout = r.duration(SectionConnection, "downloadTimeout")
	cfg.CloudflareBypass = r.boolValue(SectionConnection, "cloudflareBypass")

	if r.err != nil {
		return nil, r.err
	}

	if err := mergo.Merge(cfg, DefaultConfig()); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("apply defaults: %w", err)}
	}
	return cfg, nil
}

// reader keeps the first lookup error so Load reads like a list of fields.
type reader struct {
	path string
	file *ini.File
	err  error
}

func (r *reader) fail(section, key string, err error) {
	if r.err == nil {
		r.err = &Error{Path: r.path, Section: section, Key: key, Err: err}
	}
}

func (r *reader) required(section, key string) string {
	sec, err := r.file.GetSection(section)
	if err != nil {
		r.fail(section, "", errMissingSection)
		return ""
	}
	if !sec.HasKey(key) {
		r.fail(section, key, errMissingKey)
		return ""
	}
	return strings.TrimSpace(sec.Key(key).String())
}

func (r *reader) optional(section, key string) string {
	sec, err := r.file.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return ""
	}
	return strings.TrimSpace(sec.Key(key).String())
}

func (r *reader) intValue(section, key string) int {
	if r.optional(section, key) == "" {
		return 0
	}
	v, err := r.file.Section(section).Key(key).Int()
	if err != nil {
		r.fail(section, key, err)
	}
	return v
}

func (r *reader) boolValue(section, key string) bool {
	if r.optional(section, key) == "" {
		return false
	}
	v, err := r.file.Section(section).Key(key).Bool()
	if err != nil {
		r.fail(section, key, err)
	}
	return v
}

func (r *reader) duration(section, key string) time.Duration {
	if r.optional(section, key) == "" {
		return 0
	}
	v, err := r.file.Section(section).Key(key).Duration()
	if err != nil {
		r.fail(section, key, err)
	}
	return v
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
