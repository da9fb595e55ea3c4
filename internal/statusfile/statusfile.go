// Package statusfile reads the append-only status and log files a worker
// writes next to its output. Every reader tolerates a missing file: a job may
// be polled before its worker has written anything.
package statusfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const maxLine = 1024 * 1024

var progressPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

// ParseLatest parses KEY=VALUE lines; the last occurrence of a key wins.
func ParseLatest(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	err := scanPairs(r, func(k, v string) { out[k] = v })
	return out, err
}

// ParseFull parses KEY=VALUE lines, keeping every value in write order.
func ParseFull(r io.Reader) (map[string][]string, error) {
	out := make(map[string][]string)
	err := scanPairs(r, func(k, v string) { out[k] = append(out[k], v) })
	return out, err
}

// ParseLog returns trimmed, non-empty lines.
func ParseLog(r io.Reader) ([]string, error) {
	lines := []string{}
	err := scanLines(r, func(line string) {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	})
	return lines, err
}

func scanPairs(r io.Reader, fn func(k, v string)) error {
	return scanLines(r, func(line string) {
		line = strings.TrimSpace(line)
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return
		}
		fn(k, strings.TrimSpace(v))
	})
}

func scanLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		// ffmpeg-style tools redraw progress with carriage returns
		for _, part := range strings.Split(scanner.Text(), "\r") {
			fn(part)
		}
	}
	return scanner.Err()
}

func open(path string) (*os.File, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}
	return f, true, nil
}

// ReadLatest reads a status file into its latest-value projection.
func ReadLatest(path string) (map[string]string, error) {
	f, ok, err := open(path)
	if !ok {
		return map[string]string{}, err
	}
	defer f.Close()
	m, err := ParseLatest(f)
	if err != nil {
		return m, fmt.Errorf("read status %s: %w", path, err)
	}
	return m, nil
}

// ReadFull reads a status file into its full-history projection.
func ReadFull(path string) (map[string][]string, error) {
	f, ok, err := open(path)
	if !ok {
		return map[string][]string{}, err
	}
	defer f.Close()
	m, err := ParseFull(f)
	if err != nil {
		return m, fmt.Errorf("read status %s: %w", path, err)
	}
	return m, nil
}

// ReadLog reads a worker log file.
func ReadLog(path string) ([]string, error) {
	f, ok, err := open(path)
	if !ok {
		return []string{}, err
	}
	defer f.Close()
	lines, err := ParseLog(f)
	if err != nil {
		return lines, fmt.Errorf("read log %s: %w", path, err)
	}
	return lines, nil
}

// ExtractLatestProgress returns the last NN% or NN.N% value found in lines.
func ExtractLatestProgress(lines []string) (float64, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		matches := progressPattern.FindAllStringSubmatch(lines[i], -1)
		for j := len(matches) - 1; j >= 0; j-- {
			v, err := strconv.ParseFloat(matches[j][1], 64)
			if err != nil || v > 100 {
				continue
			}
			return v, true
		}
	}
	return 0, false
}
