package hw

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	calls  []string
	output string
	err    error
}

func (r *recordedRun) run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	return []byte(r.output), r.err
}

func TestNMNetworkConnect(t *testing.T) {
	rec := &recordedRun{}
	n := NewNMNetwork("wlan0", logrus.New())
	n.run = rec.run

	require.NoError(t, n.Connect("home", "secret"))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "nmcli --wait 0 device wifi connect home password secret ifname wlan0", rec.calls[0])
}

func TestNMNetworkConnectError(t *testing.T) {
	rec := &recordedRun{output: "Error: No network with SSID 'home' found.\n", err: errors.New("exit status 10")}
	n := NewNMNetwork("", logrus.New())
	n.run = rec.run

	err := n.Connect("home", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No network with SSID")
}

func TestNMNetworkIsConnected(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   bool
	}{
		{"connected", "connected\n", nil, true},
		{"connecting", "connecting\n", nil, false},
		{"site only", "connected (site only)\n", nil, false},
		{"failure", "", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordedRun{output: tt.output, err: tt.err}
			n := NewNMNetwork("", logrus.New())
			n.run = rec.run
			assert.Equal(t, tt.want, n.IsConnected())
		})
	}
}

func TestNMNetworkHotspot(t *testing.T) {
	rec := &recordedRun{}
	n := NewNMNetwork("", logrus.New())
	n.run = rec.run

	require.NoError(t, n.StartAccessPoint("strip-led-wifi-ssid", "strip-led-wifi-passw"))
	assert.Equal(t, []string{"nmcli device wifi hotspot ssid strip-led-wifi-ssid password strip-led-wifi-passw"}, rec.calls)
}
