package job

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordingID(t *testing.T) {
	now := time.Date(2026, 10, 19, 15, 30, 0, 123*int(time.Millisecond), time.UTC)

	id := NewRecordingID(KindDownload.Prefix(), now, "http://x/y.mp4")
	assert.Equal(t, "download-20261019153000123-y.mp4", id)
	assert.Regexp(t, regexp.MustCompile(`^download-\d{17}-y\.mp4$`), id)
}

func TestWithSequence(t *testing.T) {
	id := "download-20261019153000123-y.mp4"
	assert.Equal(t, id, WithSequence(id, 1))
	assert.Equal(t, "download-20261019153000123_2-y.mp4", WithSequence(id, 2))
	assert.Equal(t, "odd_3", WithSequence("odd", 3))
}

func TestURLSlug(t *testing.T) {
	cases := map[string]string{
		"http://host/live/user/pass/1234.ts":   "1234.ts",
		"http://host/path/with space/a b.mkv": "a-b.mkv",
		"http://host/":                          "stream",
		"not a url at all":                      "not-a-url-at-all",
		"http://host/index.m3u8?token=abc":      "index.m3u8",
	}
	for in, want := range cases {
		assert.Equal(t, want, URLSlug(in), in)
	}
}

func TestSetOutputAndValidate(t *testing.T) {
	j := Job{RecordingID: "rec-1-x", Kind: KindRecording, Entry: Entry{URL: "http://x"}}
	j.SetOutput("/work/rec-1-x.ts")

	assert.Equal(t, "/work/rec-1-x.ts.log", j.LogFile)
	assert.Equal(t, "/work/rec-1-x.ts.status", j.StatusFile)
	require.NoError(t, j.Validate())

	j.Entry = Entry{}
	assert.Error(t, j.Validate())

	j.Entry = Entry{URL: "http://x"}
	j.LogFile = "/elsewhere.log"
	assert.Error(t, j.Validate())
}

func TestKindBehaviour(t *testing.T) {
	assert.True(t, KindLive.AutoStops())
	assert.False(t, KindRecording.AutoStops())
	assert.False(t, KindDownload.AutoStops())

	assert.True(t, KindDownload.CacheBacked())
	assert.False(t, KindRecording.CacheBacked())

	assert.False(t, KindLive.ProducesMedia())
	assert.True(t, KindMovie.ProducesMedia())
	assert.False(t, Kind("bogus").Valid())
}

func TestStatusValuesJSON(t *testing.T) {
	info := NewInfo(Job{RecordingID: "x"}, nil, map[string][]string{
		"STATUS": {"preparing", "recording", "done"},
		"PID":    {"123"},
	})

	b, err := json.Marshal(info.Status)
	require.NoError(t, err)
	assert.JSONEq(t, `{"STATUS":["preparing","recording","done"],"PID":"123"}`, string(b))

	var back map[string]StatusValues
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, StatusValues{"123"}, back["PID"])
	assert.Equal(t, "done", back["STATUS"].Last())
	assert.NotNil(t, info.Logs)
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []string{StatusDone, StatusStopped, StatusError} {
		assert.True(t, IsTerminal(s), s)
		assert.False(t, IsActive(s), s)
	}
	for _, s := range []string{StatusRecording, StatusLive, StatusDownloading} {
		assert.True(t, IsActive(s), s)
	}
	assert.False(t, IsTerminal(StatusPackaging))
	assert.False(t, IsActive(StatusPreparing))
	assert.Equal(t, StatusUnknown, Normalize(""))
}
