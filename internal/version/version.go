// Package version reports what build is running: the release tag injected
// at link time plus the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
)

// Version is the release tag. Override with
// -ldflags "-X github.com/m3u-dvr/internal/version.Version=v1.2.3".
var Version = "dev"

var readBuildInfo = debug.ReadBuildInfo

const (
	rule   = "────────────────────────────────────────────────────────────"
	banner = `
            _____                 _
  _ __ ___ |___ / _   _        __| |_   ___ __
 | '_ ' _ \  |_ \| | | |_____ / _' \ \ / / '__|
 | | | | | |___) | |_| |_____| (_| |\ V /| |
 |_| |_| |_|____/ \__,_|      \__,_| \_/ |_|
`
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"goVersion,omitempty"`
}

// Get collects Info. Without an ldflags tag the module version from the
// build info is used, unless it is the "(devel)" placeholder.
func Get() Info {
	info := Info{Version: Version}
	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.Date = s.Value
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// String renders "v1.2.3 (abc1234-dirty)", or just the version when no
// commit is stamped.
func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if i.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s)", i.Version, commit)
}

// Banner returns the ASCII-art project banner.
func Banner() string {
	return strings.Trim(banner, "\n")
}

// PrintBanner writes the banner and build line to w (stdout if nil).
func PrintBanner(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, "\n%s\n%s\n\n  m3u-dvr %s\n  IPTV recording and restream manager\n%s\n\n",
		rule, Banner(), Get(), rule)
}

// PrintDetails writes one "key: value" line per known build field.
func PrintDetails(w io.Writer) {
	i := Get()
	fmt.Fprintf(w, "version: %s\n", i.Version)
	if i.GoVersion != "" {
		fmt.Fprintf(w, "go:      %s\n", i.GoVersion)
	}
	if i.Commit != "" {
		fmt.Fprintf(w, "commit:  %s\n", i.Commit)
	}
	if i.Date != "" {
		fmt.Fprintf(w, "date:    %s\n", i.Date)
	}
	if i.Dirty {
		fmt.Fprintln(w, "dirty:   true")
	}
}
