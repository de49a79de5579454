package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrTooLarge        = errors.New("upload exceeds size limit")
	ErrExtensionDenied = errors.New("file extension not allowed")
)

// Disk writes uploaded audio chunks under one directory per task.
type Disk struct {
	root       string
	allowedExt map[string]bool
	maxBytes   int64
}

// NewDisk creates a disk store. maxBytes <= 0 disables the size limit.
func NewDisk(root string, allowedExt []string, maxBytes int64) *Disk {
	allowed := make(map[string]bool, len(allowedExt))
	for _, ext := range allowedExt {
		allowed[strings.ToLower(ext)] = true
	}
	return &Disk{root: root, allowedExt: allowed, maxBytes: maxBytes}
}

// Root returns the directory holding per-task upload folders.
func (d *Disk) Root() string {
	return d.root
}

// CheckName rejects names whose extension is not whitelisted.
func (d *Disk) CheckName(name string) error {
	if len(d.allowedExt) == 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !d.allowedExt[ext] {
		return fmt.Errorf("%w: %q", ErrExtensionDenied, ext)
	}
	return nil
}

// SaveSegment stores one chunk and returns its path and the number of
// bytes actually written. Every call writes a new file, so a rejected
// concurrent upload never clobbers an accepted one.
func (d *Disk) SaveSegment(taskID string, segmentID int, name string, r io.Reader) (string, int64, error) {
	return d.save(taskID, fmt.Sprintf("%04d_%s_%s", segmentID, shortID(), sanitizeName(name)), name, r)
}

// SaveFile stores a whole single-file upload.
func (d *Disk) SaveFile(taskID, name string, r io.Reader) (string, int64, error) {
	return d.save(taskID, fmt.Sprintf("full_%s_%s", shortID(), sanitizeName(name)), name, r)
}

// Remove deletes one stored file.
func (d *Disk) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (d *Disk) save(taskID, fileName, origName string, r io.Reader) (string, int64, error) {
	if err := d.CheckName(origName); err != nil {
		return "", 0, err
	}
	dir := filepath.Join(d.root, sanitizeName(taskID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(dir, fileName)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}

	src := r
	var lr *io.LimitedReader
	if d.maxBytes > 0 {
		lr = &io.LimitedReader{R: r, N: d.maxBytes + 1}
		src = lr
	}
	n, err := io.Copy(f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && lr != nil && lr.N <= 0 {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}
	return path, n, nil
}

// RemoveTask deletes every stored chunk of a task.
func (d *Disk) RemoveTask(taskID string) error {
	return os.RemoveAll(filepath.Join(d.root, sanitizeName(taskID)))
}

func shortID() string {
	return uuid.NewString()[:8]
}

func sanitizeName(name string) string {
	base := filepath.Base(name)
	if base == "" || base == "." || base == "/" || base == string(filepath.Separator) {
		return "file"
	}
	return strings.ReplaceAll(base, "..", "_")
}
