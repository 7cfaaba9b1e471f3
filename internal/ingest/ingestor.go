// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ingest routes received records to the persistence gateway. It is
// the single classification/persistence path shared by the TCP listener and
// the HTTP ingress.
package ingest

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/iyemte/collector-agent-and-server/internal/gateway"
	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

type Ingestor struct {
	gw     gateway.Gateway
	logger logr.Logger
}

func New(gw gateway.Gateway, logger logr.Logger) *Ingestor {
	return &Ingestor{
		gw:     gw,
		logger: logger.WithName("ingest"),
	}
}

// Ingest classifies rec and persists it: profiles are upserted by machine
// identity, samples are appended. The returned Kind reports how the record
// was classified regardless of persistence outcome.
func (i *Ingestor) Ingest(ctx context.Context, rec record.Record) (record.Kind, error) {
	kind := record.Classify(rec)

	switch kind {
	case record.KindProfile:
		machineID := record.MachineID(rec)
		if machineID == "" {
			// A profile without any identity cannot be upserted by key;
			// store it as a plain insert the way samples are.
			i.logger.Info("profile without machine identity, appending instead of upserting")
			if err := i.gw.AppendSample(ctx, rec); err != nil {
				return kind, fmt.Errorf("failed to persist unidentified profile: %w", err)
			}
			return kind, nil
		}
		if err := i.gw.UpsertProfile(ctx, machineID, rec); err != nil {
			return kind, fmt.Errorf("failed to persist profile: %w", err)
		}
		i.logger.V(1).Info("ingested profile", "machine_id", machineID)
		return kind, nil

	default:
		// Samples identify themselves by MAC when the sender did not stamp
		// an explicit machine_id; persist the derived identity so stored
		// documents are queryable by machine.
		if id := record.MachineID(rec); id != "" {
			record.StampMachineID(rec, id)
		}
		if err := i.gw.AppendSample(ctx, rec); err != nil {
			return kind, fmt.Errorf("failed to persist sample: %w", err)
		}
		i.logger.V(1).Info("ingested sample", "machine_id", record.MachineID(rec))
		return kind, nil
	}
}
