//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

// Device is the PulseAudio capture device. It records mono PCM16 from a
// named source (or the default one) and publishes fixed 20 ms frames to
// the shared Source.
type Device struct {
	log    *zap.SugaredLogger
	client *pulse.Client
	stream *pulse.RecordStream
	src    *Source

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// pcmCollector implements pulse.Writer and accumulates raw S16LE PCM.
type pcmCollector struct {
	mu  sync.Mutex
	buf []int16
}

func (p *pcmCollector) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(data) / 2
	for i := 0; i < n; i++ {
		p.buf = append(p.buf, int16(binary.LittleEndian.Uint16(data[i*2:i*2+2])))
	}
	return len(data), nil
}

func (p *pcmCollector) Format() byte {
	return proto.FormatInt16LE
}

// drain returns exactly count samples or nil when not enough buffered.
func (p *pcmCollector) drain(count int) []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) < count {
		return nil
	}
	out := make([]int16, count)
	copy(out, p.buf[:count])
	p.buf = p.buf[count:]
	return out
}

// OpenDevice connects to PulseAudio and starts recording into src.
// sourceName selects a specific capture source; empty means the default
// source.
func OpenDevice(log *zap.SugaredLogger, src *Source, sourceName string) (*Device, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("webtrx"),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse connect: %w", err)
	}

	var source *pulse.Source
	if sourceName != "" {
		source, err = client.SourceByID(sourceName)
	} else {
		source, err = client.DefaultSource()
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse source: %w", err)
	}

	collector := &pcmCollector{}
	stream, err := client.NewRecord(
		collector,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(src.SampleRate()),
		pulse.RecordBufferFragmentSize(uint32(src.FrameSamples()*2)),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse record stream: %w", err)
	}

	d := &Device{
		log:    log,
		client: client,
		stream: stream,
		src:    src,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	stream.Start()
	go d.run(collector)

	log.Infow("capture device started",
		"source", source.Name(),
		"sample_rate", src.SampleRate(),
	)
	return d, nil
}

// run drains the collector on the frame cadence and publishes frames.
// Underruns are skipped rather than padded; the sender side substitutes
// silence when it sees a gap.
func (d *Device) run(collector *pcmCollector) {
	defer close(d.done)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			pcm := collector.drain(d.src.FrameSamples())
			if pcm == nil {
				continue
			}
			d.src.Publish(Frame{Samples: pcm, TS: time.Now()})
		}
	}
}

// Close stops the record stream and disconnects from PulseAudio.
func (d *Device) Close() {
	d.stopOnce.Do(func() {
		close(d.stop)
		<-d.done
		d.stream.Stop()
		d.client.Close()
	})
}
