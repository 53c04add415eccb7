package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultSTUN is used when no ICE servers are configured.
const DefaultSTUN = "stun:stun.l.google.com:19302"

// Config selects the ICE servers used for candidate gathering. An empty
// list gathers host candidates only.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// DefaultConfig uses the public Google STUN server.
func DefaultConfig() Config {
	return Config{ICEServers: []webrtc.ICEServer{{URLs: []string{DefaultSTUN}}}}
}

// ICEServers builds the server list from plain STUN URLs plus an optional
// TURN server with credentials.
func ICEServers(stun []string, turnURL, turnUser, turnPass string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   turnUser,
			Credential: turnPass,
		})
	}
	return servers
}

// newPeerConnection creates a PeerConnection with the given ICE servers.
func newPeerConnection(cfg Config) (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: cfg.ICEServers,
	})
}
