package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"
)

// VoxConfig tunes the voice-activated recorder.
type VoxConfig struct {
	// Threshold is the RMS level (on samples normalized to [-1, 1])
	// that counts as voice.
	Threshold float64
	// HoldCount is how many consecutive voiced frames arm a recording.
	HoldCount int
	// HoldTime keeps a recording open after the last voiced frame.
	HoldTime time.Duration
	// SaveDelay is how long after the hold expires the file is kept
	// open for a resumed transmission before it is finalized.
	SaveDelay time.Duration
	// Gain multiplies samples on the way to disk, clipped to int16.
	Gain float64
}

// DefaultVoxConfig matches the tuning used on the capture box.
func DefaultVoxConfig() VoxConfig {
	return VoxConfig{
		Threshold: 0.0020,
		HoldCount: 3,
		HoldTime:  1500 * time.Millisecond,
		SaveDelay: 10 * time.Second,
		Gain:      10.0,
	}
}

type voxState int

const (
	voxIdle voxState = iota
	voxRecording
	voxPending
)

// VoxRecorder watches the shared capture feed and writes voice activity
// to rec_YYYYMMDD_HHMMSS.wav files. A short burst of noise does not arm
// it; a pause shorter than SaveDelay resumes the same file.
type VoxRecorder struct {
	log *zap.SugaredLogger
	cfg VoxConfig
	dir string
	sub *Subscription

	// OnActive, when set, is invoked with true when a recording arms
	// and false when voice stops (at hold expiry). Set before Start.
	OnActive func(active bool)

	state        voxState
	armed        int
	lastVoice    time.Time
	pendingSince time.Time
	arming       []Frame

	file *os.File
	enc  *wav.Encoder
	path string

	stopOnce sync.Once
	done     chan struct{}
}

// NewVoxRecorder prepares a recorder writing into dir. Start begins
// consuming the source.
func NewVoxRecorder(log *zap.SugaredLogger, cfg VoxConfig, dir string, src *Source) *VoxRecorder {
	return &VoxRecorder{
		log:  log,
		cfg:  cfg,
		dir:  dir,
		sub:  src.Subscribe(),
		done: make(chan struct{}),
	}
}

// Start launches the recorder loop.
func (v *VoxRecorder) Start() {
	go v.run()
}

func (v *VoxRecorder) run() {
	defer close(v.done)

	for f := range v.sub.Frames() {
		v.process(f)
	}
	v.finalize()
}

func (v *VoxRecorder) process(f Frame) {
	voiced := rms(f.Samples) >= v.cfg.Threshold
	now := f.TS
	if voiced {
		v.lastVoice = now
	}

	switch v.state {
	case voxIdle:
		if !voiced {
			v.armed = 0
			v.arming = v.arming[:0]
			return
		}
		v.armed++
		v.arming = append(v.arming, f)
		if v.armed < v.cfg.HoldCount {
			return
		}
		if err := v.open(now); err != nil {
			v.log.Errorw("open vox recording", "error", err)
			v.reset()
			return
		}
		for _, queued := range v.arming {
			v.writeFrame(queued.Samples)
		}
		v.arming = v.arming[:0]
		v.state = voxRecording
		v.notify(true)

	case voxRecording:
		v.writeFrame(f.Samples)
		if now.Sub(v.lastVoice) > v.cfg.HoldTime {
			v.state = voxPending
			v.pendingSince = now
			v.notify(false)
		}

	case voxPending:
		if voiced {
			// Same file, conversation continued.
			v.state = voxRecording
			v.writeFrame(f.Samples)
			v.notify(true)
			return
		}
		if now.Sub(v.pendingSince) > v.cfg.SaveDelay {
			v.finalize()
			v.reset()
		}
	}
}

func (v *VoxRecorder) open(now time.Time) error {
	path := filepath.Join(v.dir, now.Format("rec_20060102_150405.wav"))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	v.file = f
	v.enc = wav.NewEncoder(f, DefaultSampleRate, 16, 1, 1)
	v.path = path
	v.log.Infow("vox recording started", "file", filepath.Base(path))
	return nil
}

func (v *VoxRecorder) writeFrame(pcm []int16) {
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: DefaultSampleRate},
		Data:           make([]int, len(pcm)),
		SourceBitDepth: 16,
	}
	for i, s := range pcm {
		amplified := float64(s) * v.cfg.Gain
		if amplified > math.MaxInt16 {
			amplified = math.MaxInt16
		} else if amplified < math.MinInt16 {
			amplified = math.MinInt16
		}
		buf.Data[i] = int(amplified)
	}
	if err := v.enc.Write(buf); err != nil {
		v.log.Debugw("wav write", "error", err)
	}
}

func (v *VoxRecorder) finalize() {
	if v.file == nil {
		return
	}
	if err := v.enc.Close(); err != nil {
		v.log.Errorw("finalize vox recording", "file", filepath.Base(v.path), "error", err)
	}
	if err := v.file.Close(); err != nil {
		v.log.Errorw("close vox recording", "file", filepath.Base(v.path), "error", err)
	}
	v.log.Infow("vox recording saved", "file", filepath.Base(v.path))
	v.file = nil
	v.enc = nil
}

func (v *VoxRecorder) reset() {
	v.state = voxIdle
	v.armed = 0
	v.arming = v.arming[:0]
}

func (v *VoxRecorder) notify(active bool) {
	if v.OnActive != nil {
		v.OnActive(active)
	}
}

// Stop detaches from the source and finalizes any open file.
func (v *VoxRecorder) Stop() {
	v.stopOnce.Do(func() {
		v.sub.Close()
		<-v.done
	})
}

// rms computes the root mean square of the frame on a [-1, 1] scale.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		n := float64(s) / 32768.0
		sum += n * n
	}
	return math.Sqrt(sum / float64(len(samples)))
}
