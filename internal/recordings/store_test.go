package recordings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleSRT = "1\n00:00:00,000 --> 00:00:01,000\nhello\n"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(zap.NewNop().Sugar(), t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStemRoundTrip(t *testing.T) {
	kind, at, err := ParseStem("rec_20250824_153000")
	require.NoError(t, err)
	assert.Equal(t, "rec", kind)
	assert.Equal(t, "2025-08-24 15:30:00", CanonicalDatetime(at))

	// Parse then format of the canonical string is stable.
	again, err := time.ParseInLocation("2006-01-02 15:04:05", CanonicalDatetime(at), time.Local)
	require.NoError(t, err)
	assert.Equal(t, CanonicalDatetime(at), CanonicalDatetime(again))

	kind, _, err = ParseStem("web_20250824_153000")
	require.NoError(t, err)
	assert.Equal(t, "web", kind)

	for _, bad := range []string{"rec_2025_153000", "cam_20250824_153000", "rec_20250824_153000.wav", "rec_20250824_15300"} {
		_, _, err := ParseStem(bad)
		assert.Error(t, err, bad)
	}
}

func TestListPairsAndSortsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), name), []byte(body), 0o644))
	}
	write("rec_20250824_120000.srt", sampleSRT)
	write("rec_20250824_120000.wav", "RIFF")
	write("web_20250824_130000.srt", sampleSRT)
	write("notes.srt", "junk")
	write("rec_20250101_000000.wav", "RIFF") // audio without transcript

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "web_20250824_130000.srt", entries[0].Name)
	assert.Equal(t, "web", entries[0].Kind)
	assert.Empty(t, entries[0].Audio)
	assert.Equal(t, "2025-08-24 13:00:00", entries[0].Datetime)

	assert.Equal(t, "rec_20250824_120000.srt", entries[1].Name)
	assert.Equal(t, "rec_20250824_120000.wav", entries[1].Audio)
}

func TestGetParsesTranscript(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "rec_20250824_120000.srt"), []byte(sampleSRT), 0o644))

	segs, err := s.Get("rec_20250824_120000.srt")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "hello", segs[0].Text)
}

func TestSaveBacksUpPreviousVersion(t *testing.T) {
	s := newTestStore(t)
	name := "rec_20250824_120000.srt"

	// First save of a new transcript makes no backup.
	require.NoError(t, s.Save(name, sampleSRT))
	backups, _ := filepath.Glob(filepath.Join(s.Dir(), "history", name+".*"))
	assert.Empty(t, backups)

	require.NoError(t, s.Save(name, "1\n00:00:00,000 --> 00:00:01,000\nedited\n"))

	backups, err := filepath.Glob(filepath.Join(s.Dir(), "history", name+".*"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	prev, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, sampleSRT, string(prev))

	cur, err := os.ReadFile(filepath.Join(s.Dir(), name))
	require.NoError(t, err)
	assert.Contains(t, string(cur), "edited")
}

func TestSanitizeRejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	for _, bad := range []string{
		"..",
		"",
		"rec_20250824_120000.txt",
		"secrets.srt",
		"history/rec_20250824_120000.srt",
	} {
		_, err := s.Get(bad)
		assert.Error(t, err, bad)
	}

	// Traversal is reduced to the basename, never resolved outside the
	// directory.
	_, err := s.AudioPath("../../etc/passwd")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "rec_20250824_120000.srt"), []byte(sampleSRT), 0o644))
	segs, err := s.Get("../rec_20250824_120000.srt")
	require.NoError(t, err)
	assert.Len(t, segs, 1)
}

func TestAudioPathResolvesExistingFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "web_20250824_130000.wav"), []byte("RIFF"), 0o644))

	path, err := s.AudioPath("web_20250824_130000.wav")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "web_20250824_130000.wav"), path)

	_, err = s.AudioPath("web_20990101_000000.wav")
	assert.Error(t, err)
}
