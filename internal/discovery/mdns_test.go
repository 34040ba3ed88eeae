package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func TestHubFromEntry(t *testing.T) {
	e := &mdns.ServiceEntry{
		Name:       "studio._livecanvas._tcp.local.",
		Host:       "studio.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       7420,
		InfoFields: []string{"livecanvas", "path=/live/"},
	}

	h, ok := hubFromEntry(e)
	if !ok {
		t.Fatal("Expected entry to be accepted")
	}
	if h.Instance != "studio" || h.Host != "studio.local" {
		t.Errorf("Unexpected names %q %q", h.Instance, h.Host)
	}
	if got := h.RoomURL("lobby"); got != "ws://192.168.1.20:7420/live/lobby" {
		t.Errorf("RoomURL = %s", got)
	}
}

func TestHubFromEntry_Rejects(t *testing.T) {
	tests := []*mdns.ServiceEntry{
		nil,
		{Name: "a._livecanvas._tcp.local.", Port: 7420},
		{Name: "a._livecanvas._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 1)},
		{Name: "a._other._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 1), Port: 1},
	}
	for i, e := range tests {
		if _, ok := hubFromEntry(e); ok {
			t.Errorf("Entry %d should be rejected", i)
		}
	}
}

func TestHub_DefaultPath(t *testing.T) {
	h := Hub{Addr: net.IPv4(127, 0, 0, 1), Port: 80}
	if got := h.RoomURL("x"); got != "ws://127.0.0.1:80/live/x" {
		t.Errorf("RoomURL = %s", got)
	}
}

func TestInstanceName(t *testing.T) {
	if got := instanceName(`my\ laptop._livecanvas._tcp.local.`); got != "my laptop" {
		t.Errorf("instanceName = %q", got)
	}
	if got := instanceName("plain"); got != "plain" {
		t.Errorf("instanceName = %q", got)
	}
}

func TestBrowse_ExpiredContext(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	if _, err := Browse(ctx, time.Second); err == nil {
		t.Error("Expected error for an expired context")
	}
}

func TestBrowse_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := Browse(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Browse should not wait out the timeout after cancellation")
	}
}
