// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package record defines the telemetry record model shared by the agent and
// the collector: a JSON-compatible mapping that is either a one-time machine
// profile or a recurring resource sample.
package record

import "strings"

// Field names with protocol-level meaning. FieldOS and FieldMachineType
// together discriminate profiles from samples on the wire, so they must
// match what the snapshot source emits.
const (
	FieldOS          = "os"
	FieldMachineType = "type_machine"
	FieldMachineID   = "machine_id"
	FieldMACAddress  = "adresse_mac"
	FieldTimestamp   = "timestamp"
)

// Record is a single telemetry document. Values must be JSON-serializable.
type Record map[string]any

// Kind distinguishes the two record variants.
type Kind int

const (
	// KindSample is a recurring point-in-time resource usage record.
	KindSample Kind = iota
	// KindProfile is the one-time-per-machine hardware/OS inventory record.
	KindProfile
)

func (k Kind) String() string {
	if k == KindProfile {
		return "profile"
	}
	return "sample"
}

// Classify reports whether rec is a profile or a sample.
//
// A record is a profile iff it carries both the OS and the machine type
// fields. The rule is field presence, not content: the wire format carries
// no explicit kind tag, so this is the only classification the collector
// can perform on received records. Keep the rule here and nowhere else.
func Classify(rec Record) Kind {
	_, hasOS := rec[FieldOS]
	_, hasType := rec[FieldMachineType]
	if hasOS && hasType {
		return KindProfile
	}
	return KindSample
}

// MachineID returns the machine identity carried by rec. When no explicit
// machine_id field is present it falls back to the MAC address field with
// the colons stripped, which is how profiles produced by older agents
// identify themselves.
func MachineID(rec Record) string {
	if id, ok := rec[FieldMachineID].(string); ok && id != "" {
		return id
	}
	if mac, ok := rec[FieldMACAddress].(string); ok && mac != "" {
		return strings.ReplaceAll(mac, ":", "")
	}
	return ""
}

// StampMachineID sets the machine_id field if rec does not already carry a
// non-empty one.
func StampMachineID(rec Record, id string) {
	if existing, ok := rec[FieldMachineID].(string); ok && existing != "" {
		return
	}
	rec[FieldMachineID] = id
}

// StampTimestamp sets the timestamp field if missing. The value is expected
// in the wire timestamp layout (see the wire package).
func StampTimestamp(rec Record, ts string) {
	if existing, ok := rec[FieldTimestamp].(string); ok && existing != "" {
		return
	}
	rec[FieldTimestamp] = ts
}
