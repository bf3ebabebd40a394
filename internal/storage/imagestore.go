package storage

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/haloframe/screenlogd/internal/logging"
)

var imageLog = logging.L("imagestore")

const dateDirLayout = "2006-01-02"

// FileImageStore is a filesystem ImageStore: images are written as JPEG
// under <basePath>/YYYY-MM-DD/<uuid>.jpg, and ImageRef is always the
// relative path from basePath so it stays portable across mounts.
type FileImageStore struct {
	basePath string
}

// NewFileImageStore creates a FileImageStore rooted at basePath, creating
// the directory if it does not already exist.
func NewFileImageStore(basePath string) (*FileImageStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("imagestore: create base dir %s: %w", basePath, err)
	}
	imageLog.Info("image store initialized", "path", basePath)
	return &FileImageStore{basePath: basePath}, nil
}

func (s *FileImageStore) SaveJPEG(img image.Image, timestamp time.Time, quality int) (string, int64, error) {
	dateDir := timestamp.Format(dateDirLayout)
	dir := filepath.Join(s.basePath, dateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("imagestore: create date dir %s: %w", dir, err)
	}

	filename := uuid.NewString() + ".jpg"
	filePath := filepath.Join(dir, filename)

	f, err := os.Create(filePath)
	if err != nil {
		return "", 0, fmt.Errorf("imagestore: create image file %s: %w", filePath, err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", 0, fmt.Errorf("imagestore: jpeg encoding failed: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("imagestore: stat image file %s: %w", filePath, err)
	}

	imageRef := dateDir + "/" + filename
	imageLog.Debug("image saved", "imageRef", imageRef, "sizeBytes", info.Size())
	return imageRef, info.Size(), nil
}

func (s *FileImageStore) LoadImage(imageRef string) (image.Image, error) {
	path := filepath.Join(s.basePath, imageRef)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imagestore: load image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("imagestore: decode image %s: %w", path, err)
	}
	return img, nil
}

func (s *FileImageStore) CleanupOldImages(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(dateDirLayout)

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, fmt.Errorf("imagestore: read base dir %s: %w", s.basePath, err)
	}

	var removed int64
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || len(name) != len(dateDirLayout) {
			continue
		}
		// Lexicographic comparison works for ISO date directory names.
		if name >= cutoff {
			continue
		}

		dirPath := filepath.Join(s.basePath, name)
		count, err := countFiles(dirPath)
		if err != nil {
			imageLog.Warn("failed to count files before removal", "dir", dirPath, "error", err)
		}
		if err := os.RemoveAll(dirPath); err != nil {
			return removed, fmt.Errorf("imagestore: remove old image dir %s: %w", dirPath, err)
		}
		removed += count
		imageLog.Info("removed old image directory", "dir", name, "files", count)
	}

	return removed, nil
}

func countFiles(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}
