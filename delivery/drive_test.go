package delivery

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDrive struct {
	folders     map[string]string
	files       map[string][]byte // folderID/name -> content
	findCalls   int
	createCalls int
	failCreate  map[string]bool
	mimeTypes   map[string]string
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		folders:    map[string]string{},
		files:      map[string][]byte{},
		failCreate: map[string]bool{},
		mimeTypes:  map[string]string{},
	}
}

func (f *fakeDrive) FindFolder(_ context.Context, name string) (string, bool, error) {
	f.findCalls++
	id, ok := f.folders[name]
	return id, ok, nil
}

func (f *fakeDrive) CreateFolder(_ context.Context, name string) (string, error) {
	id := "folder-" + name
	f.folders[name] = id
	return id, nil
}

func (f *fakeDrive) FileExists(_ context.Context, folderID, name string) (bool, error) {
	_, ok := f.files[folderID+"/"+name]
	return ok, nil
}

func (f *fakeDrive) Create(_ context.Context, folderID, name, mimeType string, content io.Reader) (string, error) {
	f.createCalls++
	if f.failCreate[name] {
		return "", errors.New("quota exceeded")
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.files[folderID+"/"+name] = data
	f.mimeTypes[name] = mimeType
	return "file-" + name, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUploadCreatesFolderAndSendsFiles(t *testing.T) {
	dir := t.TempDir()
	pdf := writeFile(t, dir, "Mastering Go.pdf", "pdf-bytes")
	code := writeFile(t, dir, "Mastering Go.zip", "zip-bytes")

	fake := newFakeDrive()
	u, err := newDriveUploader(fake, nil)
	require.NoError(t, err)

	reports, err := u.Upload(context.Background(), "packt", []string{pdf, code})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "folder-packt", fake.folders["packt"])
	for _, r := range reports {
		assert.Equal(t, UploadSent, r.Status)
		assert.NoError(t, r.Err)
	}
	assert.Equal(t, []byte("pdf-bytes"), fake.files["folder-packt/Mastering Go.pdf"])
	assert.Equal(t, "application/pdf", fake.mimeTypes["Mastering Go.pdf"])
	assert.Equal(t, "application/zip", fake.mimeTypes["Mastering Go.zip"])
}

func TestUploadSkipsExistingAndMissing(t *testing.T) {
	dir := t.TempDir()
	epub := writeFile(t, dir, "Go.epub", "epub")
	missing := filepath.Join(dir, "Go.mobi")

	fake := newFakeDrive()
	fake.folders["packt"] = "f1"
	fake.files["f1/Go.epub"] = []byte("old")
	u, err := newDriveUploader(fake, nil)
	require.NoError(t, err)

	reports, err := u.Upload(context.Background(), "packt", []string{epub, missing})
	require.NoError(t, err)

	assert.Equal(t, UploadSkipped, reports[0].Status)
	assert.Equal(t, UploadMissing, reports[1].Status)
	assert.NoError(t, reports[1].Err)
	assert.Zero(t, fake.createCalls)
	assert.Equal(t, []byte("old"), fake.files["f1/Go.epub"])
}

func TestUploadFailureDoesNotStopBatch(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "A.pdf", "a")
	second := writeFile(t, dir, "B.pdf", "b")

	fake := newFakeDrive()
	fake.failCreate["A.pdf"] = true
	u, err := newDriveUploader(fake, nil)
	require.NoError(t, err)

	reports, err := u.Upload(context.Background(), "packt", []string{first, second})
	require.NoError(t, err)

	assert.Equal(t, UploadFailed, reports[0].Status)
	assert.ErrorContains(t, reports[0].Err, "quota exceeded")
	assert.Equal(t, UploadSent, reports[1].Status)
}

func TestFolderIDIsCached(t *testing.T) {
	fake := newFakeDrive()
	u, err := newDriveUploader(fake, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := u.Upload(context.Background(), "packt", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.findCalls)
}

func TestMimeType(t *testing.T) {
	cases := map[string]string{
		"a.pdf":      "application/pdf",
		"a.ZIP":      "application/zip",
		"a.mobi":     "application/x-mobipocket-ebook",
		"dir/b.epub": "application/epub+zip",
		"notes.txt":  "",
		"noext":      "",
	}
	for name, want := range cases {
		assert.Equal(t, want, MimeType(name), name)
	}
}
