// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	gopshost "github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

// rootMount is the filesystem whose usage the sample reports.
var rootMount = func() string {
	if runtime.GOOS == "windows" {
		return "C:"
	}
	return "/"
}()

// Sample builds one point-in-time resource usage record. It must never
// carry both profile discriminator fields.
func (c *Collector) Sample(ctx context.Context) (record.Record, error) {
	rec := record.Record{
		record.FieldTimestamp: c.now(),
	}

	perCore, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, true)
	if err != nil {
		return nil, fmt.Errorf("failed to probe cpu usage: %w", err)
	}

	var global float64
	cores := make([]map[string]any, 0, len(perCore))
	for i, pct := range perCore {
		global += pct
		cores = append(cores, map[string]any{"core": i, "utilisation": pct})
	}
	if len(perCore) > 0 {
		global /= float64(len(perCore))
	}
	rec["cpu"] = map[string]any{
		"global_utilise": global,
		"par_coeur":      cores,
	}

	thresholds := map[string]any{"cpu": global > ResourceThresholdPercent}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		rec["memoire"] = map[string]any{
			"pourcentage_utilise": vm.UsedPercent,
			"utilisee":            vm.Used,
			"disponible":          vm.Available,
		}
		thresholds["memory"] = vm.UsedPercent > ResourceThresholdPercent
	} else {
		c.logger.V(1).Info("memory usage unavailable", "reason", err.Error())
	}

	if usage, err := disk.UsageWithContext(ctx, rootMount); err == nil {
		rec["disque"] = map[string]any{
			"pourcentage_utilise": usage.UsedPercent,
			"pourcentage_libre":   100 - usage.UsedPercent,
		}
		thresholds["disk"] = usage.UsedPercent > ResourceThresholdPercent
	}

	if counters, err := gopsnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		rec["reseau"] = map[string]any{
			"octets_envoyes":  counters[0].BytesSent,
			"octets_recus":    counters[0].BytesRecv,
			"paquets_envoyes": counters[0].PacketsSent,
			"paquets_recus":   counters[0].PacketsRecv,
		}
	}

	if pids, err := process.PidsWithContext(ctx); err == nil {
		rec["nombre_processus"] = len(pids)
	}

	if uptime, err := gopshost.UptimeWithContext(ctx); err == nil {
		rec["uptime"] = (time.Duration(uptime) * time.Second).String()
	}

	rec["seuil_atteint"] = thresholds
	return rec, nil
}
