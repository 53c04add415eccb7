package transport

import (
	"context"
	"errors"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/util"
)

const rtcpBufferSize = 1500

// drainRTCP reads and discards RTCP for one outbound track. pion's
// interceptors (NACK, reports) only run while someone reads the sender, so
// every AddTrack gets one of these. The loop exits when the sender is
// stopped or ctx is cancelled.
func drainRTCP(ctx context.Context, s *webrtc.RTPSender) {
	buf := make([]byte, rtcpBufferSize)
	for {
		if _, _, err := s.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				util.LogDebug("rtcp reader stopped: %v", err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
