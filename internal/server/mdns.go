package server

import (
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const mdnsService = "_http._tcp"

// Advertise announces the provisioning form on the local network. The returned func
// withdraws the announcement.
func Advertise(instance, listenAddr, uuid string, log logrus.FieldLogger) (func(), error) {
	port, err := listenPort(listenAddr)
	if err != nil {
		return nil, err
	}
	txt := []string{"path=/", "role=provisioning"}
	if uuid != "" {
		txt = append(txt, fmt.Sprintf("uuid=%s", uuid))
	}

	server, err := zeroconf.Register(instance, mdnsService, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	log.WithFields(logrus.Fields{"instance": instance, "port": port}).Info("mdns advertised")
	return server.Shutdown, nil
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen address %q: invalid port", addr)
	}
	return port, nil
}
