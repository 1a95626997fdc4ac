// Package probe provides host liveness checks used before attempting
// network provisioning of a device.
//
// The default implementation sends a native ICMP echo request over an
// unprivileged datagram socket, falling back to a raw socket and finally
// to a TCP connect probe when ICMP sockets are unavailable.
package probe
