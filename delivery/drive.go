// Package delivery forwards downloaded ebooks to Google Drive and by email.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

const folderCacheSize = 32

var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"mobi": "application/x-mobipocket-ebook",
	"epub": "application/epub+zip",
}

// MimeType returns the upload content type for a file name. Unknown
// extensions return an empty string and let Drive detect it.
func MimeType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	return mimeTypes[ext]
}

// Upload outcomes.
const (
	UploadSent    = "uploaded"
	UploadSkipped = "skipped"
	UploadMissing = "missing"
	UploadFailed  = "failed"
)

// UploadReport is the outcome for one local file.
type UploadReport struct {
	Path   string
	FileID string
	Status string
	Err    error
}

// driveFiles is the subset of the Drive API the uploader needs.
type driveFiles interface {
	FindFolder(ctx context.Context, name string) (string, bool, error)
	CreateFolder(ctx context.Context, name string) (string, error)
	FileExists(ctx context.Context, folderID, name string) (bool, error)
	Create(ctx context.Context, folderID, name, mimeType string, content io.Reader) (string, error)
}

// DriveUploader puts files into a named Drive folder.
type DriveUploader struct {
	files   driveFiles
	folders *lru.Cache[string, string]
	logger  *slog.Logger
}

// NewDriveUploader wraps an authorised Drive service.
func NewDriveUploader(ctx context.Context, client option.ClientOption, logger *slog.Logger) (*DriveUploader, error) {
	svc, err := drive.NewService(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return newDriveUploader(&driveService{svc: svc}, logger)
}

func newDriveUploader(files driveFiles, logger *slog.Logger) (*DriveUploader, error) {
	cache, err := lru.New[string, string](folderCacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DriveUploader{files: files, folders: cache, logger: logger}, nil
}

// Upload sends every existing path to folder, creating the folder on first
// use. Files already present in the folder are left alone. Per-file failures
// are reported, not returned; the error is only for the folder lookup.
func (u *DriveUploader) Upload(ctx context.Context, folder string, paths []string) ([]UploadReport, error) {
	folderID, err := u.folderID(ctx, folder)
	if err != nil {
		return nil, err
	}

	reports := make([]UploadReport, 0, len(paths))
	for _, path := range paths {
		report := u.uploadOne(ctx, folderID, path)
		if report.Err != nil {
			u.logger.Error("upload failed", slog.String("file", path), slog.Any("error", report.Err))
		} else {
			u.logger.Info("upload finished", slog.String("file", path), slog.String("status", report.Status))
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (u *DriveUploader) uploadOne(ctx context.Context, folderID, path string) UploadReport {
	report := UploadReport{Path: path}
	name := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		report.Status = UploadMissing
		if !errors.Is(err, os.ErrNotExist) {
			report.Status, report.Err = UploadFailed, err
		}
		return report
	}
	defer f.Close()

	exists, err := u.files.FileExists(ctx, folderID, name)
	if err != nil {
		report.Status, report.Err = UploadFailed, fmt.Errorf("look up %s: %w", name, err)
		return report
	}
	if exists {
		report.Status = UploadSkipped
		return report
	}

	id, err := u.files.Create(ctx, folderID, name, MimeType(name), f)
	if err != nil {
		report.Status, report.Err = UploadFailed, fmt.Errorf("upload %s: %w", name, err)
		return report
	}
	report.Status, report.FileID = UploadSent, id
	return report
}

func (u *DriveUploader) folderID(ctx context.Context, name string) (string, error) {
	if id, ok := u.folders.Get(name); ok {
		return id, nil
	}
	id, found, err := u.files.FindFolder(ctx, name)
	if err != nil {
		return "", fmt.Errorf("find drive folder %q: %w", name, err)
	}
	if !found {
		u.logger.Info("creating drive folder", slog.String("folder", name))
		if id, err = u.files.CreateFolder(ctx, name); err != nil {
			return "", fmt.Errorf("create drive folder %q: %w", name, err)
		}
	}
	u.folders.Add(name, id)
	return id, nil
}

type driveService struct {
	svc *drive.Service
}

func quote(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}

func (d *driveService) FindFolder(ctx context.Context, name string) (string, bool, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", quote(name), folderMimeType)
	list, err := d.svc.Files.List().Q(q).Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", false, err
	}
	if len(list.Files) == 0 {
		return "", false, nil
	}
	return list.Files[0].Id, true, nil
}

func (d *driveService) CreateFolder(ctx context.Context, name string) (string, error) {
	f, err := d.svc.Files.Create(&drive.File{Name: name, MimeType: folderMimeType}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (d *driveService) FileExists(ctx context.Context, folderID, name string) (bool, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", quote(name), quote(folderID))
	list, err := d.svc.Files.List().Q(q).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return false, err
	}
	return len(list.Files) > 0, nil
}

func (d *driveService) Create(ctx context.Context, folderID, name, mimeType string, content io.Reader) (string, error) {
	meta := &drive.File{Name: name, Parents: []string{folderID}, MimeType: mimeType}
	f, err := d.svc.Files.Create(meta).Media(content).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}
