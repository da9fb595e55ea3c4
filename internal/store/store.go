// Package store is the filesystem-backed artifact store. It owns four
// namespaces: cache (entries awaiting a job), jobs (job and info records),
// work (worker output, logs, status) and media (finalized files).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/m3u-dvr/internal/fileops"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/pkg/logger"
)

var (
	// ErrNotFound is returned when a required file is absent.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when a create-only write finds its target.
	ErrExists = errors.New("already exists")
)

const (
	jsonExt    = ".json"
	infoSuffix = "-info.json"
)

// Dirs holds the namespace roots.
type Dirs struct {
	Cache string
	Jobs  string
	Work  string
	Media string
}

// Store reads and writes artifacts below Dirs.
type Store struct {
	dirs Dirs
}

// New creates a Store. Call EnsureDirs before the first write.
func New(dirs Dirs) *Store {
	return &Store{dirs: dirs}
}

// Dirs returns the namespace roots.
func (s *Store) Dirs() Dirs { return s.dirs }

// EnsureDirs creates all namespace directories.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.dirs.Cache, s.dirs.Jobs, s.dirs.Work, s.dirs.Media} {
		if err := fileops.EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// JobPath is the job record path for a recording ID.
func (s *Store) JobPath(id string) string {
	return filepath.Join(s.dirs.Jobs, id+jsonExt)
}

// InfoPath is the info record path for a recording ID.
func (s *Store) InfoPath(id string) string {
	return filepath.Join(s.dirs.Jobs, id+infoSuffix)
}

// CachePath is the cache entry path for a cache key.
func (s *Store) CachePath(key string) string {
	return filepath.Join(s.dirs.Cache, key+jsonExt)
}

// MediaInfoPath is the sidecar info path next to a final media file.
func MediaInfoPath(finalOutputFile string) string {
	return finalOutputFile + jsonExt
}

// ReadJSON decodes the file at path into v.
func (s *Store) ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

// WriteJSON atomically replaces path with the indented JSON encoding of v.
func (s *Store) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	return s.writeAtomic(path, append(data, '\n'))
}

// ReadText returns the file content.
func (s *Store) ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read %s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteText atomically replaces path with content.
func (s *Store) WriteText(path, content string) error {
	return s.writeAtomic(path, []byte(content))
}

func (s *Store) writeAtomic(path string, data []byte) error {
	if err := fileops.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", path, err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			logger.Debugf("cleanup pending file %s: %v", path, err)
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

// createAtomic stages data in a pending file and hard-links it to path, so
// the record appears complete or not at all and an existing path is kept.
func (s *Store) createAtomic(path string, data []byte) error {
	if err := fileops.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", path, err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			logger.Debugf("cleanup pending file %s: %v", path, err)
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pendingFile.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := os.Link(pendingFile.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create %s: %w", path, ErrExists)
		}
		return fmt.Errorf("link %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists.
func (s *Store) Exists(path string) bool {
	return fileops.Exists(path)
}

// Delete removes path; a missing file is not an error.
func (s *Store) Delete(path string) error {
	if err := fileops.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// SaveJob writes a new job record. It never replaces an existing one: a
// record already stored under the same ID yields ErrExists.
func (s *Store) SaveJob(j job.Job) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid job %s: %w", j.RecordingID, err)
	}
	if err := safeName(j.RecordingID); err != nil {
		return fmt.Errorf("invalid job %s: %w", j.RecordingID, err)
	}
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.RecordingID, err)
	}
	return s.createAtomic(s.JobPath(j.RecordingID), append(data, '\n'))
}

// safeName rejects IDs and keys that would escape their namespace.
func safeName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q: %w", name, ErrNotFound)
	}
	return nil
}

// LoadJob reads the job record for id.
func (s *Store) LoadJob(id string) (job.Job, error) {
	if err := safeName(id); err != nil {
		return job.Job{}, err
	}
	var j job.Job
	if err := s.ReadJSON(s.JobPath(id), &j); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// LoadInfo reads the info record for id.
func (s *Store) LoadInfo(id string) (job.Info, error) {
	if err := safeName(id); err != nil {
		return job.Info{}, err
	}
	var info job.Info
	if err := s.ReadJSON(s.InfoPath(id), &info); err != nil {
		return job.Info{}, err
	}
	return info, nil
}

// PutCacheEntry writes a cache entry.
func (s *Store) PutCacheEntry(e job.CacheEntry) error {
	if err := safeName(e.Key); err != nil {
		return err
	}
	return s.WriteJSON(s.CachePath(e.Key), e)
}

// GetCacheEntry reads the cache entry for key.
func (s *Store) GetCacheEntry(key string) (job.CacheEntry, error) {
	if err := safeName(key); err != nil {
		return job.CacheEntry{}, err
	}
	var e job.CacheEntry
	if err := s.ReadJSON(s.CachePath(key), &e); err != nil {
		return job.CacheEntry{}, err
	}
	return e, nil
}

// JobFile is a job record found on disk.
type JobFile struct {
	Path    string
	ModTime time.Time
	Job     job.Job
}

// InfoFile is an info record found on disk.
type InfoFile struct {
	Path    string
	ModTime time.Time
	Info    job.Info
}

// ListJobs returns all live job records, oldest first. Unreadable records
// are skipped with a warning.
func (s *Store) ListJobs(ctx context.Context) ([]JobFile, error) {
	paths, err := s.list(s.dirs.Jobs, func(name string) bool {
		return strings.HasSuffix(name, jsonExt) && !strings.HasSuffix(name, infoSuffix)
	})
	if err != nil {
		return nil, err
	}

	out := make([]JobFile, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var j job.Job
		if err := s.ReadJSON(p.path, &j); err != nil {
			logger.Warnf("⚠️ Skipping unreadable job record %s: %v", p.path, err)
			continue
		}
		out = append(out, JobFile{Path: p.path, ModTime: p.modTime, Job: j})
	}
	return out, nil
}

// ListInfos returns all info records in the jobs namespace.
func (s *Store) ListInfos(ctx context.Context) ([]InfoFile, error) {
	paths, err := s.list(s.dirs.Jobs, func(name string) bool {
		return strings.HasSuffix(name, infoSuffix)
	})
	if err != nil {
		return nil, err
	}

	out := make([]InfoFile, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var info job.Info
		if err := s.ReadJSON(p.path, &info); err != nil {
			logger.Warnf("⚠️ Skipping unreadable info record %s: %v", p.path, err)
			continue
		}
		out = append(out, InfoFile{Path: p.path, ModTime: p.modTime, Info: info})
	}
	return out, nil
}

// FileEntry is a plain file found in a namespace.
type FileEntry struct {
	Path    string
	ModTime time.Time
}

// ListFiles returns regular files directly inside dir, oldest first.
// A missing directory yields no files.
func (s *Store) ListFiles(dir string) ([]FileEntry, error) {
	paths, err := s.list(dir, func(string) bool { return true })
	if err != nil {
		return nil, err
	}
	out := make([]FileEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, FileEntry{Path: p.path, ModTime: p.modTime})
	}
	return out, nil
}

// ListEntries returns files and directories directly inside dir.
func (s *Store) ListEntries(dir string) ([]FileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []FileEntry{}, nil
		}
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileEntry{Path: filepath.Join(dir, e.Name()), ModTime: info.ModTime()})
	}
	return out, nil
}

type listed struct {
	path    string
	modTime time.Time
}

func (s *Store) list(dir string, keep func(name string) bool) ([]listed, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	out := make([]listed, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !keep(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, listed{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].modTime.Before(out[k].modTime) })
	return out, nil
}

// FindJobByCacheKey returns the first job started from cacheKey whose kind
// is one of kinds (any kind when none are given).
func (s *Store) FindJobByCacheKey(ctx context.Context, cacheKey string, kinds ...job.Kind) (job.Job, error) {
	return s.findJob(ctx, func(j job.Job) bool {
		if j.CacheKey != cacheKey {
			return false
		}
		if len(kinds) == 0 {
			return true
		}
		for _, k := range kinds {
			if j.Kind == k {
				return true
			}
		}
		return false
	})
}

// FindJobByOutputFile returns the job writing to outputFile.
func (s *Store) FindJobByOutputFile(ctx context.Context, outputFile string) (job.Job, error) {
	clean := filepath.Clean(outputFile)
	return s.findJob(ctx, func(j job.Job) bool {
		return filepath.Clean(j.OutputFile) == clean
	})
}

func (s *Store) findJob(ctx context.Context, match func(job.Job) bool) (job.Job, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return job.Job{}, err
	}
	for _, jf := range jobs {
		if match(jf.Job) {
			return jf.Job, nil
		}
	}
	return job.Job{}, ErrNotFound
}
