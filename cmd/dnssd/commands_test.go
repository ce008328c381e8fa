package main

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/dnssd-client/pkg/operation"
	"github.com/rescp17/dnssd-client/pkg/protocol"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "_http._tcp"},
		{".", "_http._tcp"},
		{"_ipp", "_ipp._tcp"},
		{"_ipp._udp", "_ipp._udp"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeType(tt.in))
		})
	}
}

func TestDotEmpty(t *testing.T) {
	assert.Equal(t, "", dotEmpty("."))
	assert.Equal(t, "local", dotEmpty("local"))
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in   string
		want protocol.ProtocolFlags
	}{
		{"v4", protocol.ProtocolIPv4},
		{"V6", protocol.ProtocolIPv6},
		{"v4v6", protocol.ProtocolIPv4v6},
		{"v6v4", protocol.ProtocolIPv4v6},
		{"udp", protocol.ProtocolUDP},
		{"tcpudp", protocol.ProtocolUDP | protocol.ProtocolTCP},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseProtocol(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseProtocol("ipx")
	assert.ErrorContains(t, err, "unrecognized protocol")
}

func TestParseText(t *testing.T) {
	assert.Nil(t, parseText(nil))
	assert.Equal(t, map[string]string{"path": "/", "flag": ""}, parseText([]string{"path=/", "flag"}))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Added", title(operation.EventAdded))
	assert.Equal(t, "No such record", title(operation.EventNoSuchRecord))
}

func TestLookupRow(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 5, 9, 0, time.UTC)
	row := lookupRow(now, operation.LookupEvent{
		Type:           operation.EventAdded,
		HostName:       "rpi.local.",
		Addr:           netip.MustParseAddr("192.168.1.20"),
		TTL:            120,
		InterfaceIndex: 2,
	})
	want := "10/19/2026 14:05:09 " +
		"Added" + strings.Repeat(" ", 9) +
		"2" + strings.Repeat(" ", 9) +
		"rpi.local." + strings.Repeat(" ", 30) +
		"192.168.1.20" + strings.Repeat(" ", 32) +
		"2m" + strings.Repeat(" ", 6)
	assert.Equal(t, want, row)

	row = lookupRow(now, operation.LookupEvent{Type: operation.EventTimeout, HostName: "rpi.local."})
	assert.Contains(t, row, "Timeout")
	assert.Equal(t, 136, len(row))
}
