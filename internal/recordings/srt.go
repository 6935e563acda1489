// Package recordings exposes a read API over the recordings directory:
// stem-matched WAV/SRT pairs produced by the capture box, transcript
// parsing, and transcript edits with history backups.
package recordings

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Timestamp is an SRT cue time, milliseconds from file start.
type Timestamp time.Duration

// ParseTimestamp accepts HH:MM:SS,mmm with either a comma or a dot
// before the milliseconds.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	normalized := strings.Replace(s, ".", ",", 1)
	parts := strings.Split(normalized, ",")
	if len(parts) != 2 {
		return 0, fmt.Errorf("timestamp %q: missing milliseconds", s)
	}
	hms := strings.Split(parts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("timestamp %q: want HH:MM:SS", s)
	}
	h, err1 := strconv.Atoi(hms[0])
	m, err2 := strconv.Atoi(hms[1])
	sec, err3 := strconv.Atoi(hms[2])
	ms, err4 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return 0, fmt.Errorf("timestamp %q: non-numeric field", s)
	}
	if m > 59 || sec > 59 || ms > 999 || h < 0 || m < 0 || sec < 0 || ms < 0 {
		return 0, fmt.Errorf("timestamp %q: field out of range", s)
	}
	d := time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond
	return Timestamp(d), nil
}

// String formats the canonical SRT form HH:MM:SS,mmm.
func (t Timestamp) String() string {
	d := time.Duration(t)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Segment is one SRT cue.
type Segment struct {
	Index int       `json:"index"`
	Start Timestamp `json:"start"`
	End   Timestamp `json:"end"`
	Text  string    `json:"text"`
}

// ParseSRT reads a full SRT document: blank-line separated cues of an
// index line, a time range line and one or more text lines.
func ParseSRT(r io.Reader) ([]Segment, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var segments []Segment
	var cur *Segment
	var text []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.Join(text, "\n")
		segments = append(segments, *cur)
		cur = nil
		text = nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flush()
		case cur == nil:
			idx, err := strconv.Atoi(trimmed)
			if err != nil {
				return nil, fmt.Errorf("cue index %q: %w", trimmed, err)
			}
			if !scanner.Scan() {
				return nil, fmt.Errorf("cue %d: missing time range", idx)
			}
			start, end, err := parseRange(strings.TrimSpace(scanner.Text()))
			if err != nil {
				return nil, fmt.Errorf("cue %d: %w", idx, err)
			}
			cur = &Segment{Index: idx, Start: start, End: end}
		default:
			text = append(text, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return segments, nil
}

func parseRange(line string) (Timestamp, Timestamp, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time range %q: missing arrow", line)
	}
	start, err := ParseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}
