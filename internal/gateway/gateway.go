// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package gateway abstracts the collector's persistence backend: profiles
// are upserted by machine identity, samples are appended.
package gateway

import (
	"context"

	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

// Gateway is the persistence backend contract.
//
// UpsertProfile must be idempotent for a given machine identity: delivering
// the same profile twice (the at-least-once window) leaves one document.
// AppendSample always inserts; duplicate samples are acceptable by design.
// Implementations must be safe for concurrent use by multiple connection
// handlers.
type Gateway interface {
	UpsertProfile(ctx context.Context, machineID string, rec record.Record) error
	AppendSample(ctx context.Context, rec record.Record) error
	Ping(ctx context.Context) error
}
