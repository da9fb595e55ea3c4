// Package playlist fetches M3U playlists and parks chosen entries in the
// cache namespace, where resolvers pick them up by key.
package playlist

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/m3u-dvr/internal/job"
)

var attrPattern = regexp.MustCompile(`([A-Za-z0-9-]+)="([^"]*)"`)

// Parse reads M3U content. Entries without a URL line are dropped; a URL
// without a preceding #EXTINF becomes an entry named after the URL.
func Parse(r io.Reader) ([]job.Entry, error) {
	var (
		entries []job.Entry
		current *job.Entry
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			e := parseExtInf(line)
			current = &e
		case strings.HasPrefix(line, "#EXTGRP:"):
			if current != nil && current.Group == "" {
				current.Group = strings.TrimSpace(strings.TrimPrefix(line, "#EXTGRP:"))
			}
		case strings.HasPrefix(line, "#"):
		default:
			e := job.Entry{Name: line}
			if current != nil {
				e = *current
			}
			e.URL = line
			entries = append(entries, e)
			current = nil
		}
	}
	return entries, sc.Err()
}

// parseExtInf handles
//
//	#EXTINF:-1 tvg-id="..." tvg-logo="..." group-title="...",Display Name
func parseExtInf(line string) job.Entry {
	body := strings.TrimPrefix(line, "#EXTINF:")
	var e job.Entry

	// the title follows the first comma outside quotes
	inQuote := false
	split := -1
	for i, r := range body {
		if r == '"' {
			inQuote = !inQuote
		}
		if r == ',' && !inQuote {
			split = i
			break
		}
	}
	attrs := body
	if split >= 0 {
		attrs = body[:split]
		e.Name = strings.TrimSpace(body[split+1:])
	}

	for _, m := range attrPattern.FindAllStringSubmatch(attrs, -1) {
		switch strings.ToLower(m[1]) {
		case "tvg-id":
			e.TvgID = m[2]
		case "tvg-logo":
			e.Logo = m[2]
		case "group-title":
			e.Group = m[2]
		case "tvg-name":
			if e.Name == "" {
				e.Name = m[2]
			}
		}
	}
	return e
}
