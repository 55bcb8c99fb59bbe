package call

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// MediaSource supplies the local audio track for a call. Acquire may block on
// a permission prompt; a denied prompt is reported as an error and the call
// controller treats it as retriable. Release must tolerate repeated calls,
// including one racing a still-pending Acquire.
type MediaSource interface {
	Acquire(ctx context.Context) (webrtc.TrackLocal, error)
	SetMuted(muted bool)
	Release()
}

// newPeerConnection builds a peer connection with the default codec set and
// interceptors, using a public STUN server for candidate gathering.
func newPeerConnection() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
}
