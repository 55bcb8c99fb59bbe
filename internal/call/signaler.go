package call

import "github.com/pion/webrtc/v4"

// SignalEmitter is the slice of the relay client the call needs for
// outbound negotiation frames.
type SignalEmitter interface {
	EmitOffer(offer any) error
	EmitAnswer(answer any) error
	EmitIceCandidate(candidate any) error
}

// EmitterSignaler adapts a relay connection to the Signaler interface.
type EmitterSignaler struct {
	Emitter SignalEmitter
}

func (s EmitterSignaler) SendOffer(offer webrtc.SessionDescription) error {
	return s.Emitter.EmitOffer(offer)
}

func (s EmitterSignaler) SendAnswer(answer webrtc.SessionDescription) error {
	return s.Emitter.EmitAnswer(answer)
}

func (s EmitterSignaler) SendCandidate(candidate webrtc.ICECandidateInit) error {
	return s.Emitter.EmitIceCandidate(candidate)
}
