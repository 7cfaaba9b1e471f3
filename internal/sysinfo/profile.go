// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	gopshost "github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/iyemte/collector-agent-and-server/internal/wire"
	"github.com/iyemte/collector-agent-and-server/pkg/host"
	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

// Profile builds the one-time machine inventory record. It always carries
// the os and type_machine discriminator fields so the collector classifies
// it as a profile.
func (c *Collector) Profile(ctx context.Context) (record.Record, error) {
	rec := record.Record{
		record.FieldTimestamp:   c.now(),
		record.FieldMachineType: machineType(),
	}

	info, err := gopshost.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to probe host info: %w", err)
	}
	rec[record.FieldOS] = map[string]any{
		"nom":          info.OS,
		"version":      info.PlatformVersion,
		"release":      info.KernelVersion,
		"architecture": info.KernelArch,
		"hostname":     info.Hostname,
	}
	rec["heure_demarrage_systeme"] = wire.Timestamp(time.Unix(int64(info.BootTime), 0))
	rec["heure_demarrage_script"] = wire.Timestamp(c.startedAt)

	rec["cpu"] = c.cpuInfo(ctx)
	rec["memoire"] = c.memoryInfo(ctx)
	rec["disque"] = c.rootDiskInfo(ctx)
	rec["partitions_disque"] = c.partitions(ctx)
	rec["interfaces_reseau"] = c.interfaces(ctx)

	if addr, err := host.HardwareAddress(); err == nil {
		rec[record.FieldMACAddress] = addr.String()
	} else {
		c.logger.V(1).Info("no hardware address for profile", "reason", err.Error())
	}

	return rec, nil
}

func (c *Collector) cpuInfo(ctx context.Context) map[string]any {
	out := map[string]any{}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		out["type"] = infos[0].ModelName
		out["frequence_mhz"] = infos[0].Mhz
	} else if err != nil {
		c.logger.V(1).Info("cpu info unavailable", "reason", err.Error())
	}

	if physical, err := cpu.CountsWithContext(ctx, false); err == nil {
		out["coeurs_physiques"] = physical
	}
	if logical, err := cpu.CountsWithContext(ctx, true); err == nil {
		out["coeurs_logiques"] = logical
	}
	return out
}

func (c *Collector) memoryInfo(ctx context.Context) map[string]any {
	out := map[string]any{}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out["ram"] = map[string]any{
			"total":               vm.Total,
			"disponible":          vm.Available,
			"pourcentage_utilise": vm.UsedPercent,
		}
	} else {
		c.logger.V(1).Info("memory info unavailable", "reason", err.Error())
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		out["swap"] = map[string]any{
			"total":               swap.Total,
			"pourcentage_utilise": swap.UsedPercent,
		}
	}
	return out
}

func (c *Collector) rootDiskInfo(ctx context.Context) map[string]any {
	usage, err := disk.UsageWithContext(ctx, rootMount)
	if err != nil {
		c.logger.V(1).Info("root disk info unavailable", "reason", err.Error())
		return map[string]any{}
	}
	return map[string]any{
		"total":               usage.Total,
		"disponible":          usage.Free,
		"utilise":             usage.Used,
		"pourcentage_utilise": usage.UsedPercent,
	}
}

func (c *Collector) partitions(ctx context.Context) []map[string]any {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		c.logger.V(1).Info("partitions unavailable", "reason", err.Error())
		return nil
	}

	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		entry := map[string]any{
			"device":     p.Device,
			"mountpoint": p.Mountpoint,
			"fstype":     p.Fstype,
		}
		// Some mountpoints are not statable without privileges.
		if usage, err := disk.UsageWithContext(ctx, p.Mountpoint); err == nil {
			entry["total"] = usage.Total
			entry["pourcentage_utilise"] = usage.UsedPercent
		}
		out = append(out, entry)
	}
	return out
}

func (c *Collector) interfaces(ctx context.Context) []map[string]any {
	ifaces, err := gopsnet.InterfacesWithContext(ctx)
	if err != nil {
		c.logger.V(1).Info("network interfaces unavailable", "reason", err.Error())
		return nil
	}

	out := make([]map[string]any, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs := make([]string, 0, len(iface.Addrs))
		for _, a := range iface.Addrs {
			addrs = append(addrs, a.Addr)
		}
		out = append(out, map[string]any{
			"nom":      iface.Name,
			"mac":      iface.HardwareAddr,
			"mtu":      iface.MTU,
			"adresses": addrs,
		})
	}
	return out
}
