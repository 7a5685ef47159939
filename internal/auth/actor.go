package auth

import (
	"fmt"
	"net"
	"strings"
)

// Actor is the caller of a cart or order operation. DeviceIP is always
// set; UserID is set only for authenticated callers.
type Actor struct {
	UserID   *int64
	DeviceIP string
	Role     string
}

// Guest returns an anonymous actor identified by device IP
func Guest(deviceIP string) Actor {
	return Actor{DeviceIP: deviceIP}
}

// Authenticated returns an actor for a resolved user
func Authenticated(userID int64, deviceIP, role string) Actor {
	return Actor{UserID: &userID, DeviceIP: deviceIP, Role: role}
}

// IsAuthenticated reports whether the actor resolved to a user
func (a Actor) IsAuthenticated() bool {
	return a.UserID != nil
}

// Key identifies the actor for serializing cart resolution
func (a Actor) Key() string {
	if a.UserID != nil {
		return fmt.Sprintf("cart-owner:user:%d", *a.UserID)
	}
	return "cart-owner:device:" + a.DeviceIP
}

// ClientIP picks the device address for a request: the rightmost entry of
// the X-Forwarded-For chain, else the peer address without its port.
func ClientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			if ip := strings.TrimSpace(parts[i]); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
