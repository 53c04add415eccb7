package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/nexzi/internal/util"
)

const (
	defaultFrameRate = 15
	audioFrame       = 20 * time.Millisecond
)

// opusSilence is a single Opus frame (TOC 0xf8) that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// PromptFunc asks the user for permission to capture. Returning false means
// the user declined.
type PromptFunc func(ctx context.Context) (bool, error)

// TestPattern is a Capturer that produces a synthetic VP8 video track (and
// optionally an Opus audio track) instead of grabbing a real display. It
// stands in for platform capture in the CLI and in tests.
type TestPattern struct {
	// Prompt, when set, is consulted before capture starts.
	Prompt PromptFunc
	// Limit ends the stream on its own after the given duration, as if the
	// user stopped sharing. Zero means no limit.
	Limit time.Duration
}

// AcquireDisplayMedia builds the tracks and starts writing frames to them.
func (p *TestPattern) AcquireDisplayMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if p.Prompt != nil {
		ok, err := p.Prompt(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		if !ok {
			return nil, ErrPermissionDenied
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Video && !c.Audio {
		return nil, fmt.Errorf("%w: nothing requested", ErrCaptureFailed)
	}

	streamID := "screen-" + uuid.NewString()[:8]

	var (
		tracks []webrtc.TrackLocal
		video  *webrtc.TrackLocalStaticSample
		audio  *webrtc.TrackLocalStaticSample
		err    error
	)

	if c.Video {
		video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		tracks = append(tracks, video)
	}
	if c.Audio {
		audio, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		tracks = append(tracks, audio)
	}

	fps := c.FrameRate
	if fps <= 0 {
		fps = defaultFrameRate
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	stream := NewStream(streamID, cancel, tracks...)

	if video != nil {
		go pump(pumpCtx, video, time.Second/time.Duration(fps), frameSource())
	}
	if audio != nil {
		go pump(pumpCtx, audio, audioFrame, func() []byte { return opusSilence })
	}
	if p.Limit > 0 {
		go func() {
			select {
			case <-time.After(p.Limit):
				util.LogInfo("screen capture ended")
				stream.Stop()
			case <-pumpCtx.Done():
			}
		}()
	}

	util.LogDebug("capture started: stream=%s video=%t audio=%t fps=%d", streamID, c.Video, c.Audio, fps)
	return stream, nil
}

// pump writes one sample per interval until ctx is cancelled. Samples
// written before the track is bound to a connection are dropped by pion.
func pump(ctx context.Context, track *webrtc.TrackLocalStaticSample, interval time.Duration, next func() []byte) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := track.WriteSample(pionmedia.Sample{Data: next(), Duration: interval}); err != nil {
				util.LogDebug("capture: write %s sample: %v", track.Kind(), err)
				continue
			}
			util.Stats.AddMediaSample()
		case <-ctx.Done():
			return
		}
	}
}

// frameSource returns a generator of fake VP8 frames, a keyframe every 30
// frames. The payload is opaque; only its framing matters to the packetizer.
func frameSource() func() []byte {
	var n uint32
	return func() []byte {
		n++
		frame := make([]byte, 1200)
		if n%30 == 1 {
			frame[0] = 0x10 // P bit clear: keyframe
		} else {
			frame[0] = 0x11
		}
		for i := 1; i < len(frame); i++ {
			frame[i] = byte(n + uint32(i))
		}
		return frame
	}
}
