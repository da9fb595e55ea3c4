package fileops

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/m3u-dvr/pkg/logger"
)

// CollisionLayout is the timestamp appended to a file name that already exists.
const CollisionLayout = "2006-01-02_15-04-05"

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N} ._()\[\]-]+`)

// Move moves a file or directory from src to dst.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	// Try rename first (works if same filesystem)
	err := os.Rename(src, dst)
	if err == nil {
		logger.Debugf("📦 Moved: %s → %s", src, dst)
		return nil
	}

	info, statErr := os.Stat(src)
	if statErr != nil {
		return fmt.Errorf("move %s: %w", src, statErr)
	}
	if info.IsDir() {
		return fmt.Errorf("move directory %s across filesystems: %w", src, err)
	}

	// Fallback: copy then delete
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("copy for move: %w", err)
	}

	if err := os.Remove(src); err != nil {
		logger.Warnf("⚠️ Failed to remove source after copy: %v", err)
	}

	logger.Debugf("📦 Moved (copy+delete): %s → %s", src, dst)
	return nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Exists checks if a file or directory exists.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes a file. A missing file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll deletes a directory tree. A missing tree is not an error.
func RemoveAll(path string) error {
	if path == "" || path == "/" {
		return nil
	}
	return os.RemoveAll(path)
}

var mediaExts = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".ts":   true,
	".m3u8": true,
	".mp3":  true,
	".aac":  true,
}

// IsMediaFile checks if the file has a media container extension,
// ignoring a trailing ".part".
func IsMediaFile(path string) bool {
	return mediaExts[strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".part")))]
}

// SanitizeName turns a display name into something usable as a file name.
// Examples:
//   - "News: Evening / HD" → "News Evening HD"
//   - "" → "untitled"
func SanitizeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, " ")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, ". ")
	if len(s) > 120 {
		s = strings.TrimSpace(s[:120])
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// CollisionFreePath returns path unchanged when nothing exists there,
// otherwise the same path with a human-readable timestamp before the extension.
func CollisionFreePath(path string, now time.Time) string {
	if !Exists(path) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	candidate := fmt.Sprintf("%s_%s%s", base, now.Format(CollisionLayout), ext)
	for i := 2; Exists(candidate); i++ {
		candidate = fmt.Sprintf("%s_%s-%d%s", base, now.Format(CollisionLayout), i, ext)
	}
	return candidate
}
