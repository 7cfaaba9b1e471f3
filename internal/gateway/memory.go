// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package gateway

import (
	"context"
	"sync"

	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

// Memory is an in-process Gateway used in tests and for running the
// collector without a database.
type Memory struct {
	mu       sync.Mutex
	profiles map[string]record.Record
	samples  []record.Record

	// FailWrites makes every write return an error, for exercising the
	// collector's persistence-failure paths.
	FailWrites error
}

func NewMemory() *Memory {
	return &Memory{profiles: make(map[string]record.Record)}
}

func (m *Memory) UpsertProfile(_ context.Context, machineID string, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	record.StampMachineID(rec, machineID)
	m.profiles[machineID] = rec
	return nil
}

func (m *Memory) AppendSample(_ context.Context, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.samples = append(m.samples, rec)
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

// Profile returns the stored profile for the machine, if any.
func (m *Memory) Profile(machineID string) (record.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.profiles[machineID]
	return rec, ok
}

// Samples returns a snapshot of the appended samples.
func (m *Memory) Samples() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Record, len(m.samples))
	copy(out, m.samples)
	return out
}

// ProfileCount returns the number of distinct machine profiles stored.
func (m *Memory) ProfileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.profiles)
}
