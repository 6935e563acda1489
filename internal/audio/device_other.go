//go:build !linux

package audio

import (
	"fmt"

	"go.uber.org/zap"
)

type Device struct{}

func OpenDevice(log *zap.SugaredLogger, src *Source, sourceName string) (*Device, error) {
	return nil, fmt.Errorf("audio capture requires PulseAudio and is only supported on linux")
}

func (d *Device) Close() {}
