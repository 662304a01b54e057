package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/aluiziolira/go-grab-ebooks/config"
	"github.com/aluiziolira/go-grab-ebooks/models"
	"github.com/aluiziolira/go-grab-ebooks/parser"
	"github.com/aluiziolira/go-grab-ebooks/scraper"
)

const partSuffix = ".part"

// minSuggestScore is the Jaro-Winkler similarity below which no title is
// suggested for an unknown request.
const minSuggestScore = 0.7

// Opener starts a streamed transfer for a site-relative download path.
type Opener interface {
	Open(ctx context.Context, path string) (*scraper.Download, error)
}

// ProgressFunc is called after every chunk. total is -1 when unknown.
type ProgressFunc func(received, total int64)

// Request selects what to download. Nil Titles means every entry; nil
// Formats means the configured formats.
type Request struct {
	Titles  []string
	Formats []models.Format
}

// Downloader writes owned ebooks to the download folder, one title/format
// pair at a time.
type Downloader struct {
	opener     Opener
	dir        string
	formats    []models.Format
	chunkSize  int
	subfolders bool
	progress   func(file string, total int64) ProgressFunc
	logger     *slog.Logger
	metrics    *scraper.Metrics
}

// DownloaderOption customises a Downloader.
type DownloaderOption func(*Downloader)

// WithDownloadLogger sets the logger.
func WithDownloadLogger(logger *slog.Logger) DownloaderOption {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDownloadMetrics counts outcomes and bytes on m.
func WithDownloadMetrics(m *scraper.Metrics) DownloaderOption {
	return func(d *Downloader) { d.metrics = m }
}

// WithSubfolders stores each title in its own directory.
func WithSubfolders(on bool) DownloaderOption {
	return func(d *Downloader) { d.subfolders = on }
}

// WithProgress registers a factory returning the progress callback for each
// file about to be transferred.
func WithProgress(factory func(file string, total int64) ProgressFunc) DownloaderOption {
	return func(d *Downloader) { d.progress = factory }
}

// NewDownloader binds a downloader to an opener and the download settings of cfg.
func NewDownloader(opener Opener, cfg *config.Config, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		opener:    opener,
		dir:       cfg.DownloadDir,
		formats:   cfg.Formats,
		chunkSize: cfg.ChunkSize,
		logger:    slog.Default(),
	}
	if len(d.formats) == 0 {
		d.formats = models.AllFormats
	}
	if d.chunkSize <= 0 {
		d.chunkSize = config.DefaultConfig().ChunkSize
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// untitled replaces sanitised titles that are empty or made only of dots
// and spaces, which would otherwise name a hidden file or a parent directory.
const untitled = "untitled"

// Destination returns the local path for a title in format f.
func (d *Downloader) Destination(title string, f models.Format) string {
	name := parser.SanitizeTitle(title)
	if strings.Trim(name, ". ") == "" {
		name = untitled
	}
	file := name + "." + f.Extension()
	if d.subfolders {
		return filepath.Join(d.dir, name, file)
	}
	return filepath.Join(d.dir, file)
}

// Download transfers every selected pair that is not on disk yet. Failures of
// single pairs are recorded in the result and never stop the loop; only a
// cancelled context ends it early.
func (d *Downloader) Download(ctx context.Context, entries []models.CatalogEntry, req Request) (*models.DownloadResult, error) {
	result := &models.DownloadResult{}
	formats := req.Formats
	if len(formats) == 0 {
		formats = d.formats
	}

	for _, entry := range d.selectEntries(entries, req.Titles) {
		for _, format := range formats {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			path, ok := entry.DownloadPath(format)
			if !ok {
				result.Missing++
				d.metrics.IncDownload("missing")
				d.logger.Debug("format not offered", slog.String("title", entry.Title), slog.String("format", string(format)))
				continue
			}

			dest := d.Destination(entry.Title, format)
			if fileExists(dest) {
				result.Skipped++
				result.Files = append(result.Files, dest)
				d.metrics.IncDownload("skipped")
				d.logger.Info("already exists", slog.String("file", dest))
				continue
			}

			if format == models.FormatCode {
				d.logger.Info("downloading code for eBook", slog.String("title", entry.Title))
			} else {
				d.logger.Info("downloading eBook", slog.String("title", entry.Title), slog.String("format", string(format)))
			}

			n, err := d.transfer(ctx, path, dest)
			if err != nil {
				itemErr := models.ItemError{Title: entry.Title, Format: format, URL: path, Err: err}
				var status *scraper.StatusError
				if errors.As(err, &status) {
					itemErr.Status = status.Status
				}
				result.Errors = append(result.Errors, itemErr)
				d.metrics.IncDownload("failed")
				d.logger.Error("cannot download", slog.String("title", entry.Title), slog.String("format", string(format)), slog.Any("error", err))
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				continue
			}

			result.Downloaded++
			result.Bytes += n
			result.Files = append(result.Files, dest)
			d.metrics.IncDownload("downloaded")
			d.metrics.AddBytes(n)
			d.logger.Info("downloaded successfully", slog.String("file", dest), slog.Int64("bytes", n))
		}
	}

	d.logger.Info("download finished",
		slog.Int("downloaded", result.Downloaded),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", len(result.Errors)),
	)
	return result, nil
}

func (d *Downloader) selectEntries(entries []models.CatalogEntry, titles []string) []models.CatalogEntry {
	if titles == nil {
		return entries
	}

	wanted := make(map[string]bool, len(titles))
	for _, t := range titles {
		wanted[t] = false
	}
	var selected []models.CatalogEntry
	for _, e := range entries {
		if _, ok := wanted[e.Title]; ok {
			wanted[e.Title] = true
			selected = append(selected, e)
		}
	}

	for _, t := range titles {
		if wanted[t] {
			continue
		}
		if suggestion, ok := ClosestTitle(t, entries); ok {
			d.logger.Warn("title not in library", slog.String("title", t), slog.String("did_you_mean", suggestion))
		} else {
			d.logger.Warn("title not in library", slog.String("title", t))
		}
	}
	return selected
}

// ClosestTitle returns the inventory title most similar to title.
func ClosestTitle(title string, entries []models.CatalogEntry) (string, bool) {
	best, bestScore := "", 0.0
	for _, e := range entries {
		if score := matchr.JaroWinkler(title, e.Title, false); score > bestScore {
			best, bestScore = e.Title, score
		}
	}
	if bestScore < minSuggestScore {
		return "", false
	}
	return best, true
}

// transfer streams path into dest via a sibling part file, renamed only once
// the whole body has been written.
func (d *Downloader) transfer(ctx context.Context, path, dest string) (int64, error) {
	dl, err := d.opener.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer dl.Body.Close()

	if err := ensureDir(dest); err != nil {
		return 0, err
	}
	part := dest + partSuffix
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}

	var progress ProgressFunc
	if d.progress != nil {
		progress = d.progress(filepath.Base(dest), dl.ContentLength)
	}

	received, err := copyChunks(f, dl.Body, d.chunkSize, dl.ContentLength, progress)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", part, closeErr)
	}
	if err != nil {
		os.Remove(part)
		return received, err
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return received, fmt.Errorf("finalise %s: %w", dest, err)
	}
	return received, nil
}

func copyChunks(dst io.Writer, src io.Reader, chunkSize int, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, chunkSize)
	var received int64
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return received, fmt.Errorf("write chunk: %w", err)
			}
			received += int64(n)
			if progress != nil {
				progress(received, total)
			}
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			if total > 0 && received != total {
				return received, fmt.Errorf("short body: got %d of %d bytes", received, total)
			}
			return received, nil
		default:
			return received, fmt.Errorf("read body: %w", readErr)
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
