package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

const (
	MaxImageSize    = 10 << 20
	MaxTemplateSize = 25 << 20

	// URLPrefix is where handle serves stored images.
	URLPrefix = "/api/images/"
)

var (
	ErrBadExtension = errors.New("storage: file type not allowed")
	ErrTooLarge     = errors.New("storage: file too large")
	ErrEmpty        = errors.New("storage: empty file")
	ErrBadPath      = errors.New("storage: invalid path")
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// Disk keeps chat images under UploadRoot/<user>/<chat>/ and procedure PDFs
// under TemplateRoot/<user>/. Returned paths are relative to the root and
// use forward slashes.
type Disk struct {
	UploadRoot   string
	TemplateRoot string

	Now func() time.Time
}

func NewDisk(uploadRoot, templateRoot string) *Disk {
	return &Disk{UploadRoot: uploadRoot, TemplateRoot: templateRoot}
}

func (d *Disk) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// SaveUserImage stores an uploaded photo. The extension comes from name, or
// from the content when name has none.
func (d *Disk) SaveUserImage(userID, chatID int64, name string, data []byte) (string, error) {
	if err := checkSize(data, MaxImageSize); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = util.ExtFromMIME(util.SniffMimeHTTP(data))
	}
	if !imageExts[ext] {
		return "", fmt.Errorf("%w: %q", ErrBadExtension, ext)
	}
	file := fmt.Sprintf("user_%d_%s%s", d.now().Unix(), shortID(), ext)
	return d.write(d.UploadRoot, chatDir(userID, chatID), file, data)
}

// SaveAnnotated stores a rendered JPEG next to the chat's uploads.
func (d *Disk) SaveAnnotated(userID, chatID int64, data []byte) (string, error) {
	if err := checkSize(data, MaxImageSize); err != nil {
		return "", err
	}
	file := fmt.Sprintf("ai_%d_%s_annotated.jpg", d.now().Unix(), shortID())
	return d.write(d.UploadRoot, chatDir(userID, chatID), file, data)
}

func (d *Disk) SaveTemplate(userID int64, name string, data []byte) (string, error) {
	if err := checkSize(data, MaxTemplateSize); err != nil {
		return "", err
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != ".pdf" {
		return "", fmt.Errorf("%w: %q", ErrBadExtension, ext)
	}
	file := fmt.Sprintf("template_%d_%s.pdf", d.now().Unix(), shortID())
	return d.write(d.TemplateRoot, strconv.FormatInt(userID, 10), file, data)
}

// Open reads a stored upload by its relative path.
func (d *Disk) Open(rel string) ([]byte, error) {
	p, err := resolve(d.UploadRoot, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// DeleteChat removes every file stored for the chat. A missing directory is
// not an error.
func (d *Disk) DeleteChat(userID, chatID int64) error {
	p, err := resolve(d.UploadRoot, chatDir(userID, chatID))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Disk) URL(rel string) string {
	return URLPrefix + strings.TrimPrefix(rel, "/")
}

func (d *Disk) write(root, dir, file string, data []byte) (string, error) {
	rel := path.Join(dir, file)
	dst, err := resolve(root, rel)
	if err != nil {
		return "", err
	}
	base := filepath.Dir(dst)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("make dir: %w", err)
	}

	tmp, err := os.CreateTemp(base, file+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write temp: %w", err)
	}
	_ = tmp.Chmod(0o644)
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return rel, nil
}

// resolve joins rel onto root and refuses anything that escapes it.
func resolve(root, rel string) (string, error) {
	if rel == "" || strings.ContainsRune(rel, 0) || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %q", ErrBadPath, rel)
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrBadPath, rel)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

func checkSize(data []byte, limit int) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > limit {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), limit)
	}
	return nil
}

func chatDir(userID, chatID int64) string {
	return strconv.FormatInt(userID, 10) + "/" + strconv.FormatInt(chatID, 10)
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
