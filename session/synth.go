package session

import (
	"context"
	"fmt"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"math"
	"sync"
	"time"
)

const (
	synthSampleRate    = 8000
	synthFrameDuration = 20 * time.Millisecond
	synthFrequency     = 440.0
	// Near silent, hosts only need to keep a publication alive.
	synthGain = 0.0001
)

// SynthTrack is a host's published audio: a PCMU sample track fed with a
// sine tone, so hosts can publish without any capture device.
type SynthTrack struct {
	*webrtc.TrackLocalStaticSample

	phase  float64
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSynthAudioTrack(id, streamId string) (*SynthTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: synthSampleRate,
			Channels:  1,
		},
		id,
		streamId,
	)
	if err != nil {
		return nil, fmt.Errorf("create synth track %s: %w", id, err)
	}

	return &SynthTrack{TrackLocalStaticSample: track}, nil
}

// Start feeds frames until ctx is done or Close is called.
func (t *SynthTrack) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(synthFrameDuration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = t.WriteSample(media.Sample{
					Data:     t.nextFrame(),
					Duration: synthFrameDuration,
				})
			}
		}
	}()
}

func (t *SynthTrack) Close() {
	t.once.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
	})
	t.wg.Wait()
}

func (t *SynthTrack) nextFrame() []byte {
	samples := int(synthSampleRate * synthFrameDuration / time.Second)
	frame := make([]byte, samples)
	step := 2 * math.Pi * synthFrequency / synthSampleRate
	for i := range frame {
		pcm := int16(math.Sin(t.phase) * synthGain * math.MaxInt16)
		frame[i] = linearToMulaw(pcm)
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return frame
}

// linearToMulaw encodes one 16-bit PCM sample as G.711 mu-law.
func linearToMulaw(sample int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += bias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}
