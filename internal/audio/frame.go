// Package audio owns the capture side of the service: the shared capture
// source and its subscriber fan-out, the PulseAudio device layer, the
// per-session Opus media sender, and the WAV recorders.
package audio

import "time"

const (
	// DefaultSampleRate is the capture rate in samples per second.
	DefaultSampleRate = 48000

	// FrameDuration is the fixed frame cadence.
	FrameDuration = 20 * time.Millisecond

	// subscriberQueueDepth bounds each subscriber queue: 100 frames = 2 s.
	subscriberQueueDepth = 100
)

// Frame is one 20 ms mono PCM16 capture frame. Samples holds exactly
// Source.FrameSamples() values; frames are value copies and the producer
// retains no ownership after delivery.
type Frame struct {
	Samples []int16
	TS      time.Time
}
