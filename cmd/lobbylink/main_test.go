package main

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/health"
)

func detectors(local, external string, externalCalls *int) health.Detectors {
	return health.Detectors{
		Local: func(context.Context) (netip.Addr, error) {
			if local == "" {
				return netip.Addr{}, errors.New("no route")
			}
			return netip.MustParseAddr(local), nil
		},
		External: func(context.Context) (netip.Addr, error) {
			*externalCalls++
			if external == "" {
				return netip.Addr{}, errors.New("offline")
			}
			return netip.MustParseAddr(external), nil
		},
	}
}

func TestResolveAddresses(t *testing.T) {
	tests := []struct {
		name          string
		cfg           config.ServerConfig
		local         string
		external      string
		wantLocal     string
		wantExternal  string
		externalCalls int
	}{
		{
			name:         "configured values win",
			cfg:          config.ServerConfig{LocalIP: "10.0.0.5", ExternalIP: "203.0.113.9"},
			local:        "192.168.1.2",
			external:     "198.51.100.1",
			wantLocal:    "10.0.0.5",
			wantExternal: "203.0.113.9",
		},
		{
			name:         "public local address is used for both",
			local:        "203.0.113.20",
			external:     "198.51.100.1",
			wantLocal:    "203.0.113.20",
			wantExternal: "203.0.113.20",
		},
		{
			name:          "private local address looks up the public one",
			local:         "192.168.1.2",
			external:      "198.51.100.1",
			wantLocal:     "192.168.1.2",
			wantExternal:  "198.51.100.1",
			externalCalls: 1,
		},
		{
			name:          "failed lookup falls back to local",
			local:         "192.168.1.2",
			wantLocal:     "192.168.1.2",
			wantExternal:  "192.168.1.2",
			externalCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			local, external := resolveAddresses(context.Background(), tt.cfg, detectors(tt.local, tt.external, &calls))
			assert.Equal(t, netip.MustParseAddr(tt.wantLocal), local)
			assert.Equal(t, netip.MustParseAddr(tt.wantExternal), external)
			assert.Equal(t, tt.externalCalls, calls)
		})
	}
}

func TestResolveAddresses_NothingKnown(t *testing.T) {
	calls := 0
	local, external := resolveAddresses(context.Background(), config.ServerConfig{}, detectors("", "", &calls))
	assert.False(t, local.IsValid())
	assert.False(t, external.IsValid())
	assert.Equal(t, 1, calls)
}

func TestStartWithRetry(t *testing.T) {
	attempts := 0
	err := startWithRetry(context.Background(), "test", func(context.Context) error {
		attempts++
		return nil
	}, 3)
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = startWithRetry(ctx, "test", func(context.Context) error { return errors.New("bind") }, 3)
	assert.ErrorIs(t, err, context.Canceled)
}
