package recordings

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"go.uber.org/zap"
)

// stemRe matches the recording basename stem, without extension.
var stemRe = regexp.MustCompile(`^(rec|web)_(\d{8})_(\d{6})$`)

const (
	// listLimit caps how many transcripts list returns.
	listLimit = 100

	// canonicalLayout is the datetime string exposed by the API.
	canonicalLayout = "2006-01-02 15:04:05"

	stemLayout   = "20060102_150405"
	backupLayout = "2006-01-02_150405"
)

// ParseStem extracts the recording kind and capture time from a stem
// like rec_20250824_153000.
func ParseStem(stem string) (kind string, at time.Time, err error) {
	m := stemRe.FindStringSubmatch(stem)
	if m == nil {
		return "", time.Time{}, fmt.Errorf("name %q does not match the recording pattern", stem)
	}
	at, err = time.ParseInLocation(stemLayout, m[2]+"_"+m[3], time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("name %q: %w", stem, err)
	}
	return m[1], at, nil
}

// CanonicalDatetime formats a capture time the way the API reports it.
func CanonicalDatetime(at time.Time) string {
	return at.Format(canonicalLayout)
}

// Entry is one transcript in the list response. Duration is the paired
// audio length in seconds, zero when the WAV is missing or unreadable.
type Entry struct {
	Name     string  `json:"name"`
	Audio    string  `json:"audio,omitempty"`
	Kind     string  `json:"kind"`
	Datetime string  `json:"datetime"`
	Duration float64 `json:"duration,omitempty"`
}

// Store serves the recordings directory.
type Store struct {
	log *zap.SugaredLogger
	dir string
}

// NewStore opens a store over dir, creating it and its history/
// subdirectory if needed.
func NewStore(log *zap.SugaredLogger, dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "history"), 0o755); err != nil {
		return nil, fmt.Errorf("recordings dir: %w", err)
	}
	return &Store{log: log, dir: dir}, nil
}

// Dir returns the directory the store serves.
func (s *Store) Dir() string { return s.dir }

// sanitize reduces a client-supplied file parameter to a safe basename
// with the expected extension and a valid recording stem.
func (s *Store) sanitize(name, ext string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "" {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if filepath.Ext(base) != ext {
		return "", fmt.Errorf("file %q: want a %s file", name, ext)
	}
	if _, _, err := ParseStem(strings.TrimSuffix(base, ext)); err != nil {
		return "", err
	}
	return base, nil
}

// List returns up to 100 transcripts, newest first, each paired with
// its same-stem audio file when one exists.
func (s *Store) List() ([]Entry, error) {
	names, err := filepath.Glob(filepath.Join(s.dir, "*.srt"))
	if err != nil {
		return nil, fmt.Errorf("scan recordings: %w", err)
	}

	entries := make([]Entry, 0, len(names))
	for _, path := range names {
		base := filepath.Base(path)
		stem := strings.TrimSuffix(base, ".srt")
		kind, at, err := ParseStem(stem)
		if err != nil {
			continue
		}
		e := Entry{Name: base, Kind: kind, Datetime: CanonicalDatetime(at)}
		audioName := stem + ".wav"
		audioPath := filepath.Join(s.dir, audioName)
		if _, err := os.Stat(audioPath); err == nil {
			e.Audio = audioName
			e.Duration = s.probeDuration(audioPath)
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name > entries[j].Name
	})
	if len(entries) > listLimit {
		entries = entries[:listLimit]
	}
	return entries, nil
}

// probeDuration reads the WAV header for the audio length. Corrupt or
// partly written files report zero rather than failing the listing.
func (s *Store) probeDuration(path string) float64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	d, err := wav.NewDecoder(f).Duration()
	if err != nil {
		s.log.Debugw("probe wav duration", "file", filepath.Base(path), "error", err)
		return 0
	}
	return d.Seconds()
}

// Get reads and parses one transcript.
func (s *Store) Get(name string) ([]Segment, error) {
	base, err := s.sanitize(name, ".srt")
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, base))
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return ParseSRT(f)
}

// Save overwrites a transcript, preserving the previous version under
// history/<name>.<timestamp>. Saving a transcript that does not exist
// yet skips the backup.
func (s *Store) Save(name, content string) error {
	base, err := s.sanitize(name, ".srt")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, base)

	if prev, err := os.ReadFile(path); err == nil {
		backup := filepath.Join(s.dir, "history",
			base+"."+time.Now().Format(backupLayout))
		if err := os.WriteFile(backup, prev, 0o644); err != nil {
			return fmt.Errorf("backup transcript: %w", err)
		}
		s.log.Infow("transcript backed up", "file", base, "backup", filepath.Base(backup))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read transcript: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	s.log.Infow("transcript saved", "file", base, "bytes", len(content))
	return nil
}

// AudioPath resolves a client-supplied audio name to a path inside the
// recordings directory.
func (s *Store) AudioPath(name string) (string, error) {
	base, err := s.sanitize(name, ".wav")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, base)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("audio file %q: %w", base, err)
	}
	return path, nil
}
