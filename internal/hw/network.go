package hw

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// runFunc executes a command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMNetwork implements Network with NetworkManager's nmcli.
type NMNetwork struct {
	iface   string
	timeout time.Duration
	run     runFunc
	log     logrus.FieldLogger
}

// NewNMNetwork manages the wireless interface iface. An empty iface lets nmcli choose.
func NewNMNetwork(iface string, log logrus.FieldLogger) *NMNetwork {
	return &NMNetwork{
		iface:   iface,
		timeout: 5 * time.Second,
		run:     execRun,
		log:     log.WithField("component", "wifi"),
	}
}

func (n *NMNetwork) nmcli(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	out, err := n.run(ctx, "nmcli", args...)
	if err != nil {
		return "", fmt.Errorf("nmcli %s: %w: %s", args[0], err, bytes.TrimSpace(out))
	}
	return string(out), nil
}

func (n *NMNetwork) withIface(args []string) []string {
	if n.iface != "" {
		args = append(args, "ifname", n.iface)
	}
	return args
}

// Connect issues the join request without waiting for activation.
func (n *NMNetwork) Connect(ssid, password string) error {
	args := n.withIface([]string{"--wait", "0", "device", "wifi", "connect", ssid, "password", password})
	if _, err := n.nmcli(args...); err != nil {
		return err
	}
	n.log.WithField("ssid", ssid).Info("join requested")
	return nil
}

// IsConnected reports whether NetworkManager has full connectivity on a station link.
func (n *NMNetwork) IsConnected() bool {
	out, err := n.nmcli("-t", "-f", "STATE", "general")
	if err != nil {
		n.log.WithError(err).Debug("state query failed")
		return false
	}
	return strings.TrimSpace(out) == "connected"
}

// StartAccessPoint hosts the provisioning hotspot.
func (n *NMNetwork) StartAccessPoint(ssid, password string) error {
	args := n.withIface([]string{"device", "wifi", "hotspot", "ssid", ssid, "password", password})
	if _, err := n.nmcli(args...); err != nil {
		return err
	}
	n.log.WithField("ssid", ssid).Info("access point ready")
	return nil
}

// Info returns the first IPv4 address and hardware address of the interface.
func (n *NMNetwork) Info() NetInfo {
	var ifaces []net.Interface
	if n.iface != "" {
		if ifc, err := net.InterfaceByName(n.iface); err == nil {
			ifaces = append(ifaces, *ifc)
		}
	} else {
		all, err := net.Interfaces()
		if err == nil {
			ifaces = all
		}
	}

	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
				return NetInfo{IP: ipn.IP.String(), MAC: ifc.HardwareAddr.String()}
			}
		}
	}
	return NetInfo{}
}
