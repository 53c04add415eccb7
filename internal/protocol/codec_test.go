package protocol

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/address"
)

const sampleSDP = "v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
	"a=candidate:1 1 udp 2130706431 192.168.1.2 50000 typ host\r\n"

func TestEncodeDecode(t *testing.T) {
	testCases := []struct {
		name string
		desc webrtc.SessionDescription
		from address.Address
	}{
		{"offer with sender", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sampleSDP}, "123456789"},
		{"answer without sender", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sampleSDP}, ""},
		{"large description", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: strings.Repeat(sampleSDP, 200)}, "987654321"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code, err := Encode(tc.desc, tc.from)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if strings.ContainsAny(code, " \n") {
				t.Errorf("code contains whitespace")
			}

			desc, from, err := Decode(code, tc.desc.Type)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if desc.Type != tc.desc.Type || desc.SDP != tc.desc.SDP {
				t.Errorf("description mismatch: got %s (%d bytes)", desc.Type, len(desc.SDP))
			}
			if from != tc.from {
				t.Errorf("sender mismatch: got %q, want %q", from, tc.from)
			}
		})
	}
}

// TestDecodeToleratesWrapping splits a code across lines and indents it the
// way a chat client or terminal would.
func TestDecodeToleratesWrapping(t *testing.T) {
	code, err := Encode(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sampleSDP}, "123456789")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var wrapped strings.Builder
	wrapped.WriteString("  \n")
	for i := 0; i < len(code); i += 16 {
		end := min(i+16, len(code))
		wrapped.WriteString(code[i:end])
		wrapped.WriteString("\r\n\t")
	}

	if _, _, err := Decode(wrapped.String(), webrtc.SDPTypeOffer); err != nil {
		t.Fatalf("Decode of wrapped code failed: %v", err)
	}
}

func TestDecodeRejects(t *testing.T) {
	offer, _ := Encode(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sampleSDP}, "123456789")
	notZstd := base64.StdEncoding.EncodeToString([]byte(`{"type":"offer","sdp":"v=0"}`))

	testCases := []struct {
		name string
		code string
		want webrtc.SDPType
	}{
		{"empty", "", webrtc.SDPTypeOffer},
		{"blank", " \n\t ", webrtc.SDPTypeOffer},
		{"not base64", "!!!not-a-code!!!", webrtc.SDPTypeOffer},
		{"not compressed", notZstd, webrtc.SDPTypeOffer},
		{"truncated", offer[:len(offer)/2], webrtc.SDPTypeOffer},
		{"wrong type", offer, webrtc.SDPTypeAnswer},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode(tc.code, tc.want)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("Decode = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestEncodeRejectsEmptyDescription(t *testing.T) {
	if _, err := Encode(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}, ""); err == nil {
		t.Fatal("Encode accepted an empty description")
	}
}
