// Package protocol encodes session descriptions into the text codes users
// copy and paste when no relay is available.
//
// A code is base64(zstd(json(payload))). The description must be taken after
// ICE gathering completes, since the code is the only thing the peer will
// ever receive: every candidate has to be embedded in its SDP.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/address"
)

// maxDecodedSize bounds decompression of pasted input.
const maxDecodedSize = 1 << 20

// ErrInvalidPayload is returned for any code that cannot be turned back into
// a description of the expected type.
var ErrInvalidPayload = errors.New("invalid connection code")

// Payload is the structure carried inside a code.
type Payload struct {
	Type string          `json:"type"`
	SDP  string          `json:"sdp"`
	From address.Address `json:"from,omitempty"`
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll
// and are reused across calls.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		panic("protocol: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes desc, tagged with the sender's address, into a code.
func Encode(desc webrtc.SessionDescription, from address.Address) (string, error) {
	if desc.SDP == "" {
		return "", fmt.Errorf("encode %s: empty description", desc.Type)
	}

	raw, err := json.Marshal(Payload{Type: desc.Type.String(), SDP: desc.SDP, From: from})
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", desc.Type, err)
	}

	return base64.StdEncoding.EncodeToString(encoder.EncodeAll(raw, nil)), nil
}

// Decode parses a code and checks that it holds a description of type want.
// Whitespace anywhere in the code is ignored, since terminals and chat apps
// tend to wrap long lines.
func Decode(code string, want webrtc.SDPType) (webrtc.SessionDescription, address.Address, error) {
	var none webrtc.SessionDescription

	compact := strings.Join(strings.Fields(code), "")
	if compact == "" {
		return none, "", fmt.Errorf("%w: empty", ErrInvalidPayload)
	}

	compressed, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return none, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return none, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return none, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	typ := webrtc.NewSDPType(p.Type)
	if typ != want {
		return none, "", fmt.Errorf("%w: got %q, want %s", ErrInvalidPayload, p.Type, want)
	}
	if p.SDP == "" {
		return none, "", fmt.Errorf("%w: no session description", ErrInvalidPayload)
	}
	if p.From != "" && !p.From.Valid() {
		return none, "", fmt.Errorf("%w: bad sender %q", ErrInvalidPayload, p.From)
	}

	return webrtc.SessionDescription{Type: typ, SDP: p.SDP}, p.From, nil
}
