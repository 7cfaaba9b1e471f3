// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package host

import (
	"fmt"
	"net"
)

// HardwareAddress returns the MAC address of the first non-loopback
// interface that has one. Virtual interfaces without a hardware address
// are skipped.
func HardwareAddress() (net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr, nil
	}

	return nil, fmt.Errorf("no interface with a hardware address found")
}

// Identity returns the stable machine identity used to key this machine's
// records in the central store: the decimal value of the hardware address
// of the first non-loopback interface. When no interface qualifies it
// falls back to the systemd machine-id.
//
// Resolve this once at process start; the identity must not change for the
// process lifetime.
func Identity() (string, error) {
	addr, err := HardwareAddress()
	if err == nil {
		return fmt.Sprintf("%d", hardwareAddrValue(addr)), nil
	}

	id, idErr := MachineID()
	if idErr != nil {
		return "", fmt.Errorf("no hardware address (%v) and no machine-id: %w", err, idErr)
	}
	return id, nil
}

// hardwareAddrValue packs the address bytes into a single integer,
// most significant byte first.
func hardwareAddrValue(addr net.HardwareAddr) uint64 {
	var v uint64
	for _, b := range addr {
		v = v<<8 | uint64(b)
	}
	return v
}
