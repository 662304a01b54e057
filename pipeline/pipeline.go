// Package pipeline runs the grabber steps in order and owns the transfer and
// metadata-log stages.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/aluiziolira/go-grab-ebooks/config"
	"github.com/aluiziolira/go-grab-ebooks/delivery"
	"github.com/aluiziolira/go-grab-ebooks/models"
	"github.com/aluiziolira/go-grab-ebooks/scraper"
)

// Step names carried by fatal errors.
const (
	StepLogin     = "login"
	StepClaim     = "claim"
	StepInventory = "inventory"
	StepDownload  = "download"
	StepUpload    = "upload"
)

// ErrNotConfigured is returned when a flag asks for a delivery channel that
// was not set up.
var ErrNotConfigured = errors.New("pipeline: delivery not configured")

// Session is the site-facing part of a run.
type Session interface {
	Login(ctx context.Context, email, password string) error
	Claim(ctx context.Context) (*scraper.ClaimResult, error)
	ClaimedBookDetails(ctx context.Context, title string) (models.ClaimedBook, error)
	Inventory(ctx context.Context) ([]models.CatalogEntry, error)
}

// Fetcher transfers selected inventory entries to disk.
type Fetcher interface {
	Download(ctx context.Context, entries []models.CatalogEntry, req Request) (*models.DownloadResult, error)
	Destination(title string, f models.Format) string
}

// Uploader sends local files to a remote folder.
type Uploader interface {
	Upload(ctx context.Context, folder string, paths []string) ([]delivery.UploadReport, error)
}

// Mailer sends downloaded files by email.
type Mailer interface {
	SendBook(path string, to []string) error
	SendKindle(path string) error
}

// Options mirror the command-line switches. They combine freely.
type Options struct {
	Grab           bool // claim the daily ebook
	GrabLog        bool // claim and record its metadata
	GrabDownload   bool // claim and download it
	DownloadAll    bool
	DownloadChosen bool // download the configured titles
	Upload         bool // claim, download and upload to Drive
	Mail           bool // claim, download and mail
	List           bool // read the inventory only
}

func (o Options) claim() bool {
	return o.Grab || o.GrabLog || o.GrabDownload || o.Upload || o.Mail
}

func (o Options) claimedFiles() bool {
	return o.GrabDownload || o.Upload || o.Mail
}

func (o Options) inventory() bool {
	return o.claimedFiles() || o.DownloadAll || o.DownloadChosen || o.List
}

func (o Options) download() bool {
	return o.claimedFiles() || o.DownloadAll || o.DownloadChosen
}

// Report is the outcome of a run.
type Report struct {
	Claimed    string
	Metadata   *models.ClaimedBook
	Inventory  []models.CatalogEntry
	Download   *models.DownloadResult
	Uploads    []delivery.UploadReport
	MailErrors []error
}

// Pipeline wires the session, the downloader and the delivery channels.
type Pipeline struct {
	cfg        *config.Config
	session    Session
	downloader Fetcher
	writer     MetadataWriter
	uploader   Uploader
	mailer     Mailer
	logger     *slog.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithMetadataWriter sets where claimed-book metadata is appended.
func WithMetadataWriter(w MetadataWriter) Option {
	return func(p *Pipeline) { p.writer = w }
}

// WithUploader enables the Drive step.
func WithUploader(u Uploader) Option {
	return func(p *Pipeline) { p.uploader = u }
}

// WithMailer enables the mail step.
func WithMailer(m Mailer) Option {
	return func(p *Pipeline) { p.mailer = m }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a pipeline.
func New(cfg *config.Config, session Session, downloader Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		session:    session,
		downloader: downloader,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the selected steps strictly in order: login, claim, metadata,
// inventory, download, upload, mail. Errors that end the run are
// *scraper.FatalError; per-item problems are collected in the report.
func (p *Pipeline) Run(ctx context.Context, o Options) (*Report, error) {
	report := &Report{}
	if !o.claim() && !o.inventory() {
		p.logger.Info("nothing to do")
		return report, nil
	}
	if o.Upload && p.uploader == nil {
		return report, scraper.Fatal(StepUpload, ErrNotConfigured)
	}
	if o.Mail && p.mailer == nil {
		return report, scraper.Fatal("mail", ErrNotConfigured)
	}

	if err := p.session.Login(ctx, p.cfg.Email, p.cfg.Password); err != nil {
		return report, scraper.Fatal(StepLogin, err)
	}

	if o.claim() {
		claimed, err := p.session.Claim(ctx)
		if err != nil {
			return report, scraper.Fatal(StepClaim, err)
		}
		report.Claimed = claimed.Title
	}

	if o.GrabLog {
		p.recordMetadata(ctx, report)
	}

	if !o.inventory() {
		return report, nil
	}
	entries, err := p.session.Inventory(ctx)
	if err != nil {
		return report, scraper.Fatal(StepInventory, err)
	}
	report.Inventory = entries

	if !o.download() {
		return report, nil
	}
	result, err := p.downloader.Download(ctx, entries, Request{Titles: p.titles(o, report.Claimed)})
	report.Download = result
	if err != nil {
		return report, scraper.Fatal(StepDownload, err)
	}

	var files []string
	if o.Upload || o.Mail {
		files = p.claimedFiles(report.Claimed)
		if len(files) == 0 {
			p.logger.Warn("no downloaded files for the claimed title", slog.String("title", report.Claimed))
		}
	}

	if o.Upload && len(files) > 0 {
		uploads, err := p.uploader.Upload(ctx, p.cfg.Drive.FolderName, files)
		report.Uploads = uploads
		if err != nil {
			return report, scraper.Fatal(StepUpload, err)
		}
	}

	if o.Mail {
		for _, f := range files {
			if err := p.mailer.SendBook(f, nil); err != nil {
				report.MailErrors = append(report.MailErrors, err)
			}
			if err := p.mailer.SendKindle(f); err != nil {
				report.MailErrors = append(report.MailErrors, err)
			}
		}
	}

	return report, nil
}

func (p *Pipeline) recordMetadata(ctx context.Context, report *Report) {
	book, err := p.session.ClaimedBookDetails(ctx, report.Claimed)
	if err != nil {
		p.logger.Warn("cannot collect ebook metadata", slog.String("title", report.Claimed), slog.Any("error", err))
		return
	}
	report.Metadata = &book
	if p.writer == nil {
		return
	}
	if err := p.writer.Write(book); err != nil {
		p.logger.Warn("cannot write ebook metadata", slog.String("title", report.Claimed), slog.Any("error", err))
		return
	}
	if err := p.writer.Validate(); err != nil {
		p.logger.Warn("ebook metadata log is not valid", slog.String("title", report.Claimed), slog.Any("error", err))
		return
	}
	p.logger.Info("ebook metadata saved", slog.String("title", book.Title))
}

// titles picks what to download. Nil means every entry.
func (p *Pipeline) titles(o Options, claimed string) []string {
	if o.DownloadAll {
		return nil
	}
	var titles []string
	if o.claimedFiles() {
		titles = append(titles, claimed)
	}
	if o.DownloadChosen {
		if len(p.cfg.Titles) == 0 && titles == nil {
			return nil
		}
		titles = append(titles, p.cfg.Titles...)
	}
	return titles
}

// claimedFiles lists the local files of the claimed title in the configured
// formats.
func (p *Pipeline) claimedFiles(title string) []string {
	formats := p.cfg.Formats
	if len(formats) == 0 {
		formats = models.AllFormats
	}
	var files []string
	for _, f := range formats {
		path := p.downloader.Destination(title, f)
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	return files
}
