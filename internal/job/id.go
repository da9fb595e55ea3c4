package job

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

const idTimeLayout = "20060102150405"

var slugUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewRecordingID builds a unique, sortable ID such as
// "download-20261019153000123-y.mp4" from the kind prefix, the time and the
// last path segment of the source URL.
func NewRecordingID(prefix string, now time.Time, sourceURL string) string {
	now = now.UTC()
	stamp := fmt.Sprintf("%s%03d", now.Format(idTimeLayout), now.Nanosecond()/int(time.Millisecond))
	return prefix + "-" + stamp + "-" + URLSlug(sourceURL)
}

// WithSequence disambiguates id for the n-th start within the same
// millisecond: "download-20261019153000123-y.mp4" becomes
// "download-20261019153000123_2-y.mp4". n below 2 returns id unchanged.
func WithSequence(id string, n int) string {
	if n < 2 {
		return id
	}
	parts := strings.SplitN(id, "-", 3)
	if len(parts) < 3 {
		return fmt.Sprintf("%s_%d", id, n)
	}
	return fmt.Sprintf("%s-%s_%d-%s", parts[0], parts[1], n, parts[2])
}

// URLSlug derives a file-name-safe slug from the last path segment of rawURL.
func URLSlug(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	seg := path.Base(strings.TrimRight(p, "/"))
	if seg == "." || seg == "/" {
		seg = ""
	}
	seg = strings.Trim(slugUnsafe.ReplaceAllString(seg, "-"), "-.")
	if len(seg) > 60 {
		seg = seg[len(seg)-60:]
	}
	if seg == "" {
		return "stream"
	}
	return seg
}
