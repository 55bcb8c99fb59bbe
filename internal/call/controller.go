// Package call drives one voice call: local media acquisition, SDP
// negotiation over a Signaler, and call lifecycle state.
package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// State is the lifecycle position of one call.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateNegotiating
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

var (
	// ErrPermissionDenied reports a refused microphone prompt. The controller
	// returns to idle and Start may be retried.
	ErrPermissionDenied = errors.New("call: media permission denied")
	// ErrNotNegotiating reports remote signaling received before Start.
	ErrNotNegotiating = errors.New("call: no negotiation in progress")
	// ErrBusy reports Start on a controller that already left idle.
	ErrBusy = errors.New("call: already in progress")
)

// Signaler delivers local negotiation messages to the other participant.
type Signaler interface {
	SendOffer(offer webrtc.SessionDescription) error
	SendAnswer(answer webrtc.SessionDescription) error
	SendCandidate(candidate webrtc.ICECandidateInit) error
}

// Controller runs one call end to end. Zero value is not usable; set Media
// and Signal before Start. A controller is single-use: after End it stays
// ended, except that a failed media acquisition returns it to idle so Start
// can be retried.
type Controller struct {
	Media  MediaSource
	Signal Signaler

	// OnEnded fires exactly once when the call ends, however that happens.
	OnEnded func()
	// OnDuration fires once per second while connected with the elapsed
	// whole seconds.
	OnDuration func(seconds int)

	mu         sync.Mutex
	state      State
	pc         *webrtc.PeerConnection
	pending    []webrtc.ICECandidateInit
	remoteSet  bool
	muted      bool
	speakerOn  bool
	seconds    int
	tickerStop chan struct{}
}

// Start acquires local media, builds the peer connection and, for the
// initiator, sends the opening offer. On return the controller is
// negotiating and ready for remote signaling.
func (c *Controller) Start(ctx context.Context, initiator bool) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateAcquiringMedia
	c.mu.Unlock()

	track, err := c.Media.Acquire(ctx)
	if err != nil {
		c.backToIdle()
		return err
	}

	// End may have arrived while the permission prompt was pending; ended is
	// terminal, so release what was just acquired and stop.
	c.mu.Lock()
	if c.state != StateAcquiringMedia {
		c.mu.Unlock()
		c.Media.Release()
		return nil
	}
	c.mu.Unlock()

	pc, err := newPeerConnection()
	if err != nil {
		c.Media.Release()
		c.backToIdle()
		return fmt.Errorf("call: peer connection: %w", err)
	}

	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		c.Media.Release()
		c.backToIdle()
		return fmt.Errorf("call: add track: %w", err)
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		c.mu.Lock()
		ended := c.state == StateEnded
		c.mu.Unlock()
		if ended {
			return
		}
		if err := c.Signal.SendCandidate(candidate.ToJSON()); err != nil {
			log.Printf("call: send candidate: %v", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.markConnected()
		case webrtc.PeerConnectionStateFailed:
			c.End()
		}
	})

	c.mu.Lock()
	if c.state != StateAcquiringMedia {
		c.mu.Unlock()
		pc.Close()
		c.Media.Release()
		return nil
	}
	c.pc = pc
	c.state = StateNegotiating
	c.mu.Unlock()

	if initiator {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			c.End()
			return fmt.Errorf("call: create offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			c.End()
			return fmt.Errorf("call: set local description: %w", err)
		}
		if err := c.Signal.SendOffer(offer); err != nil {
			c.End()
			return fmt.Errorf("call: send offer: %w", err)
		}
	}
	return nil
}

// backToIdle returns a failed Start to idle so it can be retried. An End
// that landed in the meantime wins: ended stays terminal.
func (c *Controller) backToIdle() {
	c.mu.Lock()
	if c.state == StateAcquiringMedia {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// AcceptRemoteOffer applies the partner's offer and answers it. Signaling
// after the call ended is discarded.
func (c *Controller) AcceptRemoteOffer(offer webrtc.SessionDescription) error {
	pc, err := c.negotiatingPC()
	if pc == nil {
		return err
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("call: set remote offer: %w", err)
	}
	c.flushPendingCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("call: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("call: set local description: %w", err)
	}
	return c.Signal.SendAnswer(answer)
}

// AcceptRemoteAnswer applies the partner's answer to our offer.
func (c *Controller) AcceptRemoteAnswer(answer webrtc.SessionDescription) error {
	pc, err := c.negotiatingPC()
	if pc == nil {
		return err
	}

	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("call: set remote answer: %w", err)
	}
	c.flushPendingCandidates(pc)
	return nil
}

// AddRemoteIceCandidate applies one remote candidate. Candidates arriving
// before the remote description are buffered and applied once it lands.
func (c *Controller) AddRemoteIceCandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	switch c.state {
	case StateEnded:
		c.mu.Unlock()
		return nil
	case StateIdle, StateAcquiringMedia:
		c.mu.Unlock()
		return ErrNotNegotiating
	}
	if !c.remoteSet {
		c.pending = append(c.pending, candidate)
		c.mu.Unlock()
		return nil
	}
	pc := c.pc
	c.mu.Unlock()
	return pc.AddICECandidate(candidate)
}

// negotiatingPC returns the live peer connection, or nil with the error the
// caller should surface. An ended call yields (nil, nil): stale signaling
// is dropped silently.
func (c *Controller) negotiatingPC() (*webrtc.PeerConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateEnded:
		return nil, nil
	case StateIdle, StateAcquiringMedia:
		return nil, ErrNotNegotiating
	}
	return c.pc, nil
}

func (c *Controller) flushPendingCandidates(pc *webrtc.PeerConnection) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.remoteSet = true
	c.mu.Unlock()

	for _, candidate := range pending {
		if err := pc.AddICECandidate(candidate); err != nil {
			log.Printf("call: buffered candidate: %v", err)
		}
	}
}

func (c *Controller) markConnected() {
	c.mu.Lock()
	if c.state != StateNegotiating {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.seconds = 0
	stop := make(chan struct{})
	c.tickerStop = stop
	c.mu.Unlock()

	go c.runTicker(stop)
}

func (c *Controller) runTicker(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.seconds++
			seconds := c.seconds
			cb := c.OnDuration
			c.mu.Unlock()
			if cb != nil {
				cb(seconds)
			}
		}
	}
}

// ToggleMute flips the microphone mute and reports the new value.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	if c.state == StateEnded {
		muted := c.muted
		c.mu.Unlock()
		return muted
	}
	c.muted = !c.muted
	muted := c.muted
	c.mu.Unlock()

	c.Media.SetMuted(muted)
	return muted
}

// ToggleSpeaker flips the speaker routing flag and reports the new value.
// Routing itself is the playout device's concern.
func (c *Controller) ToggleSpeaker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded {
		return c.speakerOn
	}
	c.speakerOn = !c.speakerOn
	return c.speakerOn
}

// Muted reports the current microphone mute.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Duration reports connected time, whole seconds.
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.seconds) * time.Second
}

// CurrentState reports the current lifecycle state.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// End tears the call down: peer connection closed, media released, duration
// ticker stopped. Safe to call any number of times and from any state.
func (c *Controller) End() {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	started := c.state != StateIdle
	c.state = StateEnded
	pc := c.pc
	c.pc = nil
	c.pending = nil
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
	onEnded := c.OnEnded
	c.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Printf("call: close peer connection: %v", err)
		}
	}
	if started && c.Media != nil {
		c.Media.Release()
	}
	if onEnded != nil {
		onEnded()
	}
}
