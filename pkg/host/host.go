// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package host provides utilities for host and machine identification
package host

// MachineID returns a unique machine ID of the local system that is set
// during installation or boot by systemd.
func MachineID() (string, error) {
	return machineID()
}

// Hostname returns the hostname reported by the kernel.
func Hostname() (string, error) {
	return hostname()
}
