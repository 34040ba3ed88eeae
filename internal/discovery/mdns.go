// Package discovery announces and finds livecanvas hubs on the local
// network over mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD service advertised by hubs.
const ServiceType = "_livecanvas._tcp"

const pathKey = "path="

// Hub is one discovered hub.
type Hub struct {
	Instance string
	Host     string
	Addr     net.IP
	Port     int

	// Websocket path prefix, e.g. /live/
	Path string
}

// URL returns the websocket base URL of the hub.
func (h Hub) URL() string {
	return fmt.Sprintf("ws://%s", net.JoinHostPort(h.Addr.String(), fmt.Sprint(h.Port)))
}

// RoomURL returns the websocket URL of a room on the hub.
func (h Hub) RoomURL(room string) string {
	path := h.Path
	if path == "" {
		path = "/live/"
	}
	return h.URL() + path + room
}

// Advertisement is a running mDNS announcement.
type Advertisement struct {
	server *mdns.Server
}

// Advertise announces a hub listening on port. An empty instance name
// uses the hostname.
func Advertise(instance string, port int, path string) (*Advertisement, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}

	info := []string{"livecanvas", pathKey + path}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return &Advertisement{server: server}, nil
}

// Close withdraws the announcement.
func (a *Advertisement) Close() error {
	return a.server.Shutdown()
}

// Browse collects hubs answering within timeout, or until ctx ends,
// whichever comes first. Results are ordered by instance name.
func Browse(ctx context.Context, timeout time.Duration) ([]Hub, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	collected := make(chan []Hub, 1)
	go func() {
		seen := make(map[string]bool)
		var hubs []Hub
		for e := range entries {
			h, ok := hubFromEntry(e)
			if !ok || seen[h.URL()] {
				continue
			}
			seen[h.URL()] = true
			hubs = append(hubs, h)
		}
		sort.Slice(hubs, func(i, j int) bool { return hubs[i].Instance < hubs[j].Instance })
		collected <- hubs
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.QueryContext(ctx, params)
	close(entries)

	hubs := <-collected
	if ctx.Err() != nil {
		return hubs, ctx.Err()
	}
	if err != nil {
		return hubs, fmt.Errorf("mdns query: %w", err)
	}
	return hubs, nil
}

func hubFromEntry(e *mdns.ServiceEntry) (Hub, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Hub{}, false
	}
	if !strings.Contains(e.Name, ServiceType) {
		return Hub{}, false
	}

	h := Hub{
		Instance: instanceName(e.Name),
		Host:     strings.TrimSuffix(e.Host, "."),
		Addr:     e.AddrV4,
		Port:     e.Port,
	}
	for _, field := range e.InfoFields {
		if v, ok := strings.CutPrefix(field, pathKey); ok {
			h.Path = v
		}
	}
	return h, true
}

// instanceName strips the service and domain from "name._livecanvas._tcp.local.".
func instanceName(full string) string {
	if i := strings.Index(full, "."+ServiceType); i > 0 {
		return strings.ReplaceAll(full[:i], `\ `, " ")
	}
	return full
}
