//go:build linux

package api

import "github.com/vishvananda/netlink"

// interfaceExists reports whether a network link with this name is
// present right now.
func interfaceExists(name string) bool {
	_, err := netlink.LinkByName(name)
	return err == nil
}
