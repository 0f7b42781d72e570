// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: transport/webrtc_test.go
// Summary: Loopback WebRTC negotiation through the HTTP signaling endpoint.

package transport

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebRTCLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("webrtc negotiation skipped in short mode")
	}
	srv := httptest.NewServer(&WebRTCAnswerer{Accept: func(conn net.Conn) {
		echoFrames(t, conn)
	}})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, err := Dial(ctx, "webrtc+"+srv.URL+"/offer")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	roundTrip(t, conn)
}

func TestWebRTCSignalingRejectsEmptyOffer(t *testing.T) {
	srv := httptest.NewServer(&WebRTCAnswerer{})
	defer srv.Close()

	d := &WebRTCDialer{}
	_, err := d.postOffer(context.Background(), srv.URL, "")
	if !errors.Is(err, ErrSignaling) || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected signaling failure with 400, got %v", err)
	}
}
