package audio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// TrackRecorder captures a remote Opus track to a WAV file while the
// sending client holds the floor. Files are named web_YYYYMMDD_HHMMSS.wav
// so they sort next to the locally captured recordings.
type TrackRecorder struct {
	log   *zap.SugaredLogger
	track *webrtc.TrackRemote
	dec   *opus.Decoder
	file  *os.File
	enc   *wav.Encoder
	path  string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewTrackRecorder opens web_<timestamp>.wav under dir and starts
// draining the track. Recording stops when Stop is called or the track
// ends.
func NewTrackRecorder(log *zap.SugaredLogger, dir string, track *webrtc.TrackRemote) (*TrackRecorder, error) {
	dec, err := opus.NewDecoder(DefaultSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}

	path := filepath.Join(dir, time.Now().Format("web_20060102_150405.wav"))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	r := &TrackRecorder{
		log:   log,
		track: track,
		dec:   dec,
		file:  f,
		enc:   wav.NewEncoder(f, DefaultSampleRate, 16, 1, 1),
		path:  path,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.run()

	log.Infow("track recording started", "file", filepath.Base(path))
	return r, nil
}

// Path returns the recording file path.
func (r *TrackRecorder) Path() string { return r.path }

func (r *TrackRecorder) run() {
	defer close(r.done)

	frameSamples := DefaultSampleRate / 50
	pcm := make([]int16, frameSamples)
	silence := make([]int16, frameSamples)
	raw := make([]byte, 1500)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: DefaultSampleRate},
		Data:           make([]int, frameSamples),
		SourceBitDepth: 16,
	}

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		// A short deadline lets pauses in the RTP flow show up as
		// silence instead of a shortened file.
		r.track.SetReadDeadline(time.Now().Add(2 * FrameDuration))
		n, _, err := r.track.Read(raw)
		switch {
		case err == nil:
			var pkt rtp.Packet
			if uerr := pkt.Unmarshal(raw[:n]); uerr != nil {
				r.log.Debugw("rtp unmarshal", "error", uerr)
				continue
			}
			samples, derr := r.dec.Decode(pkt.Payload, pcm)
			if derr != nil {
				r.log.Debugw("opus decode", "error", derr)
				continue
			}
			r.writeFrame(buf, pcm[:samples])
		case isTimeout(err):
			r.writeFrame(buf, silence)
		case errors.Is(err, io.EOF):
			return
		default:
			r.log.Debugw("track read", "error", err)
			return
		}
	}
}

func (r *TrackRecorder) writeFrame(buf *goaudio.IntBuffer, pcm []int16) {
	buf.Data = buf.Data[:0]
	for _, s := range pcm {
		buf.Data = append(buf.Data, int(s))
	}
	if err := r.enc.Write(buf); err != nil {
		r.log.Debugw("wav write", "error", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// Stop finalizes the WAV header and closes the file. Idempotent.
func (r *TrackRecorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
		if err := r.enc.Close(); err != nil {
			r.log.Errorw("finalize recording", "file", filepath.Base(r.path), "error", err)
		}
		if err := r.file.Close(); err != nil {
			r.log.Errorw("close recording", "file", filepath.Base(r.path), "error", err)
		}
		r.log.Infow("track recording stopped", "file", filepath.Base(r.path))
	})
}
