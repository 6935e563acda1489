package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// Sender encodes the shared capture feed to Opus and writes it onto one
// session's outbound track. Every session gets its own Sender so a slow
// or dying peer never stalls the others.
type Sender struct {
	log   *zap.SugaredLogger
	track *webrtc.TrackLocalStaticSample
	sub   *Subscription
	enc   *opus.Encoder

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSender subscribes to src and starts the encode loop. The returned
// track must be added to the peer connection before the answer is
// created.
func NewSender(log *zap.SugaredLogger, src *Source, trackID string) (*Sender, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		// Opus is always signaled as /48000/2; the payload itself is
		// mono and the SDP fmtp pins stereo off.
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: uint32(src.SampleRate()),
			Channels:  2,
		},
		"audio", trackID,
	)
	if err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}

	enc, err := opus.NewEncoder(src.SampleRate(), 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	s := &Sender{
		log:   log,
		track: track,
		sub:   src.Subscribe(),
		enc:   enc,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.run(src.FrameSamples())
	return s, nil
}

// Track returns the outbound track for AddTrack.
func (s *Sender) Track() *webrtc.TrackLocalStaticSample { return s.track }

// Dropped reports frames lost to this sender's queue overflowing.
func (s *Sender) Dropped() uint64 { return s.sub.Dropped() }

func (s *Sender) run(frameSamples int) {
	defer close(s.done)

	opusBuf := make([]byte, 4000)
	silence := make([]int16, frameSamples)

	for {
		var pcm []int16
		select {
		case <-s.stop:
			return
		case f, ok := <-s.sub.Frames():
			if !ok {
				return
			}
			pcm = f.Samples
		case <-time.After(2 * FrameDuration):
			// Capture gap. Keep the track fed so the decoder's
			// timeline does not stall.
			pcm = silence
		}

		n, err := s.enc.Encode(pcm, opusBuf)
		if err != nil {
			s.log.Errorw("opus encode", "error", err)
			continue
		}

		sample := media.Sample{
			Data:     make([]byte, n),
			Duration: FrameDuration,
		}
		copy(sample.Data, opusBuf[:n])
		if err := s.track.WriteSample(sample); err != nil {
			s.log.Debugw("write sample", "error", err)
		}
	}
}

// Stop detaches from the capture source and ends the encode loop.
// Idempotent.
func (s *Sender) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.sub.Close()
		<-s.done
	})
}
