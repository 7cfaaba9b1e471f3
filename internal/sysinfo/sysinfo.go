// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sysinfo produces the machine profile and resource sample records
// the agent spools. All platform probing lives here, behind the snapshot
// source interface the collection loop consumes; nothing outside this
// package inspects the host.
package sysinfo

import (
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/iyemte/collector-agent-and-server/internal/wire"
)

// ResourceThresholdPercent is the utilization level above which a sample
// flags the resource as saturated.
const ResourceThresholdPercent = 80.0

// Collector gathers host telemetry. Probe failures degrade individual
// fields rather than failing the whole snapshot: a machine with an
// unreadable battery still produces a profile.
type Collector struct {
	logger    logr.Logger
	startedAt time.Time
}

func NewCollector(logger logr.Logger) *Collector {
	return &Collector{
		logger:    logger.WithName("sysinfo"),
		startedAt: time.Now(),
	}
}

func (c *Collector) now() string {
	return wire.Timestamp(time.Now())
}

// machineType reports 0 for a laptop and 1 for a desktop. The heuristic is
// battery presence, probed through sysfs on Linux; anything unprobeable is
// reported as a desktop.
func machineType() int {
	for _, path := range []string{
		"/sys/class/power_supply/BAT0",
		"/sys/class/power_supply/BAT1",
	} {
		if _, err := os.Stat(path); err == nil {
			return 0
		}
	}
	return 1
}
