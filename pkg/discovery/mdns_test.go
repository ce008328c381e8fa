package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceInfo_Key(t *testing.T) {
	tests := []struct {
		name string
		info ServiceInfo
		want string
	}{
		{"plain", ServiceInfo{Name: "RPI", Type: "_http._tcp", Domain: "local"}, "RPI:_http._tcp:local"},
		{"trailing dots", ServiceInfo{Name: "RPI", Type: "_http._tcp.", Domain: "local."}, "RPI:_http._tcp:local"},
		{"port ignored", ServiceInfo{Name: "RPI", Type: "_http._tcp", Domain: "local", Port: 80}, "RPI:_http._tcp:local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Key())
		})
	}
}

func TestSnapshot_SortedByKey(t *testing.T) {
	entries := map[string]ServiceInfo{}
	for _, name := range []string{"c", "a", "b"} {
		info := ServiceInfo{Name: name, Type: "_http._tcp", Domain: "local"}
		entries[info.Key()] = info
	}
	got := snapshot(entries)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, "c", got[2].Name)
}

func TestMDNSAdapter_AnnounceStop(t *testing.T) {
	// Skip mDNS tests in CI environment as they may be unreliable
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mdnsAdapter := &MDNSAdapter{Logger: quietLogger()}
	serviceInfo := ServiceInfo{
		Name:   "test-instance",
		Type:   "_test-service._tcp",
		Domain: "local",
		Port:   8080,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdnsAdapter.Announce(ctx, serviceInfo)
	}()

	time.Sleep(50 * time.Millisecond) // Allow some time for the service to be announced
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Skipf("mDNS unavailable: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Service announcement did not complete in time")
	}
}

func TestMDNSAdapter_Discover(t *testing.T) {
	// Skip mDNS tests in CI environment as they may be unreliable
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mdnsAdapter := &MDNSAdapter{Logger: quietLogger()}

	serviceInfo := ServiceInfo{
		Name:   "test-instance",
		Type:   "_test-service._tcp",
		Domain: "local",
		Port:   8080,
		Text:   map[string]string{"path": "/"},
	}

	go func() {
		_ = mdnsAdapter.Announce(ctx, serviceInfo)
	}()
	// Allow some time for the service to be announced
	time.Sleep(300 * time.Millisecond)

	queryCtx, queryCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer queryCancel()

	outCh := mdnsAdapter.Discover(queryCtx, serviceInfo.Type, serviceInfo.Domain)
	result, ok := <-outCh
	if !ok || result.Error != nil || len(result.Services) == 0 {
		t.Skipf("mDNS unavailable: %v", result.Error)
	}
	discovered := result.Services[0]
	assert.Equal(t, serviceInfo.Name, discovered.Name)
	assert.Equal(t, serviceInfo.Port, discovered.Port)
	assert.Equal(t, serviceInfo.Key(), discovered.Key())
}
