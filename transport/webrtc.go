// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: transport/webrtc.go
// Summary: WebRTC data channel transport with HTTP offer/answer signaling.
// Usage: The viewer POSTs a complete SDP offer (vanilla ICE) to the host's
//   signaling endpoint and receives the complete answer in the response body.

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
	"pkt.systems/pslog"
)

const (
	dataChannelLabel   = "deskview"
	sdpContentType     = "application/sdp"
	iceGatherTimeout   = 10 * time.Second
	channelOpenTimeout = 15 * time.Second
	maxSDPSize         = 64 << 10
)

var ErrSignaling = errors.New("transport: webrtc signaling failed")

func newPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

func gather(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) error {
	done := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WebRTCDialer opens an ordered, reliable data channel to a host.
type WebRTCDialer struct {
	ICEServers []webrtc.ICEServer
	Client     *http.Client
}

// DialContext negotiates with the signaling endpoint at address (http or
// https URL) and returns the opened channel.
func (d *WebRTCDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	logger := pslog.Ctx(ctx)
	pc, err := newPeerConnection(d.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("webrtc ice state", "state", state.String())
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := gather(ctx, pc, offer); err != nil {
		pc.Close()
		return nil, err
	}

	answerSDP, err := d.postOffer(ctx, address, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("setting remote description: %w", err)
	}

	select {
	case <-opened:
	case <-time.After(channelOpenTimeout):
		pc.Close()
		return nil, fmt.Errorf("data channel did not open within %s", channelOpenTimeout)
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}
	raw, err := dc.Detach()
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("detaching data channel: %w", err)
	}
	logger.Info("webrtc channel open", "endpoint", address)
	return NewDataChannelConn(raw, "viewer/"+dataChannelLabel, address, func() { pc.Close() }), nil
}

func (d *WebRTCDialer) postOffer(ctx context.Context, address, sdp string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewBufferString(sdp))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", sdpContentType)
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignaling, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSDPSize))
	if err != nil {
		return "", fmt.Errorf("%w: reading answer: %v", ErrSignaling, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrSignaling, resp.StatusCode, bytes.TrimSpace(body))
	}
	return string(body), nil
}

// WebRTCAnswerer is the host-side signaling endpoint. Each accepted offer
// yields one connection passed to Accept on its own goroutine.
type WebRTCAnswerer struct {
	ICEServers []webrtc.ICEServer
	Accept     func(net.Conn)
	Logger     pslog.Logger
}

func (a *WebRTCAnswerer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "offer must be POSTed", http.StatusMethodNotAllowed)
		return
	}
	logger := a.Logger
	if logger == nil {
		logger = pslog.Ctx(r.Context())
	}
	offer, err := io.ReadAll(io.LimitReader(r.Body, maxSDPSize))
	if err != nil {
		http.Error(w, "read offer", http.StatusBadRequest)
		return
	}
	answer, err := a.answer(r.Context(), string(offer), logger)
	if err != nil {
		logger.Warn("webrtc answer failed", "remote", r.RemoteAddr, "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", sdpContentType)
	_, _ = io.WriteString(w, answer)
}

func (a *WebRTCAnswerer) answer(ctx context.Context, offerSDP string, logger pslog.Logger) (string, error) {
	pc, err := newPeerConnection(a.ICEServers)
	if err != nil {
		return "", fmt.Errorf("creating peer connection: %w", err)
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			dc.OnOpen(func() { dc.Close() })
			return
		}
		dc.OnOpen(func() {
			raw, err := dc.Detach()
			if err != nil {
				logger.Warn("webrtc detach failed", "err", err)
				pc.Close()
				return
			}
			conn := NewDataChannelConn(raw, "host/"+dataChannelLabel, "viewer/"+dataChannelLabel, func() { pc.Close() })
			if a.Accept == nil {
				conn.Close()
				return
			}
			go a.Accept(conn)
		})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("webrtc ice state", "state", state.String())
		if state == webrtc.ICEConnectionStateFailed {
			pc.Close()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		pc.Close()
		return "", fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("creating SDP answer: %w", err)
	}
	if err := gather(ctx, pc, answer); err != nil {
		pc.Close()
		return "", err
	}
	return pc.LocalDescription().SDP, nil
}
