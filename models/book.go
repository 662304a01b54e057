// Package models defines data structures for the grabber.
package models

import (
	"strings"
	"time"
)

// Format is a download flavour advertised by the library page.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatMOBI Format = "mobi"
	FormatEPUB Format = "epub"
	FormatCode Format = "code"
)

// AllFormats is used whenever no format list is configured.
var AllFormats = []Format{FormatPDF, FormatMOBI, FormatEPUB, FormatCode}

// Extension returns the file extension written to disk for the format.
func (f Format) Extension() string {
	if f == FormatCode {
		return "zip"
	}
	return string(f)
}

// Known reports whether f is one of AllFormats.
func (f Format) Known() bool {
	for _, known := range AllFormats {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFormats converts a comma-separated list into formats, dropping blanks.
func ParseFormats(list string) []Format {
	var out []Format
	for _, part := range strings.Split(list, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		out = append(out, Format(part))
	}
	return out
}

// CatalogEntry is one owned ebook and the downloads the site advertises for it.
type CatalogEntry struct {
	Title string `json:"title"`
	ID    string `json:"id"`
	// Downloads maps a format to its site-relative path. Only advertised
	// formats are present.
	Downloads map[Format]string `json:"downloads"`
}

// DownloadPath returns the relative path for f, if advertised.
func (e CatalogEntry) DownloadPath(f Format) (string, bool) {
	path, ok := e.Downloads[f]
	return path, ok
}

// ClaimedBook holds the metadata recorded for a claimed ebook.
type ClaimedBook struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Author       string    `json:"author"`
	PublishDate  string    `json:"date_published"`
	BookURL      string    `json:"url"`
	CodeFilesURL string    `json:"code_files_url"`
	CapturedAt   time.Time `json:"downloaded_at"`
}
