package netstatus

import (
	"net"
)

// LinkFunc reports whether the host has a usable network link and what
// kind it is
type LinkFunc func() (connected bool, kind string)

// InterfaceLink reports a link when any non-loopback interface is up and
// has an address
func InterfaceLink() (bool, string) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, "unknown"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return true, iface.Name
	}
	return false, "none"
}
