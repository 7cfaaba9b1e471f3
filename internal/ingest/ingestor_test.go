// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyemte/collector-agent-and-server/internal/gateway"
	"github.com/iyemte/collector-agent-and-server/internal/ingest"
	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

func TestIngestProfileUpsertsByIdentity(t *testing.T) {
	gw := gateway.NewMemory()
	ing := ingest.New(gw, testr.New(t))

	rec := record.Record{
		"os":           map[string]any{"nom": "Linux"},
		"type_machine": 1,
		"machine_id":   "mach-1",
	}
	kind, err := ing.Ingest(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, record.KindProfile, kind)

	stored, ok := gw.Profile("mach-1")
	require.True(t, ok)
	assert.Equal(t, 1, stored["type_machine"])

	// Re-delivery of the same profile stays a single document.
	_, err = ing.Ingest(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.ProfileCount())
	assert.Empty(t, gw.Samples())
}

func TestIngestProfileIdentityFromMAC(t *testing.T) {
	gw := gateway.NewMemory()
	ing := ingest.New(gw, testr.New(t))

	rec := record.Record{
		"os":           "Linux",
		"type_machine": 0,
		"adresse_mac":  "aa:bb:cc:dd:ee:ff",
	}
	_, err := ing.Ingest(context.Background(), rec)
	require.NoError(t, err)

	_, ok := gw.Profile("aabbccddeeff")
	assert.True(t, ok)
}

func TestIngestProfileWithoutIdentityIsAppended(t *testing.T) {
	gw := gateway.NewMemory()
	ing := ingest.New(gw, testr.New(t))

	kind, err := ing.Ingest(context.Background(), record.Record{
		"os":           "Linux",
		"type_machine": 1,
	})
	require.NoError(t, err)
	assert.Equal(t, record.KindProfile, kind)
	assert.Equal(t, 0, gw.ProfileCount())
	assert.Len(t, gw.Samples(), 1)
}

func TestIngestSampleAppends(t *testing.T) {
	gw := gateway.NewMemory()
	ing := ingest.New(gw, testr.New(t))

	for i := 0; i < 3; i++ {
		kind, err := ing.Ingest(context.Background(), record.Record{"cpu": float64(i)})
		require.NoError(t, err)
		assert.Equal(t, record.KindSample, kind)
	}
	assert.Len(t, gw.Samples(), 3)
}

func TestIngestSampleIdentityStampedFromMAC(t *testing.T) {
	gw := gateway.NewMemory()
	ing := ingest.New(gw, testr.New(t))

	kind, err := ing.Ingest(context.Background(), record.Record{
		"cpu":         42.0,
		"adresse_mac": "aa:bb:cc:dd:ee:ff",
	})
	require.NoError(t, err)
	assert.Equal(t, record.KindSample, kind)

	samples := gw.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, "aabbccddeeff", samples[0][record.FieldMachineID])
}

func TestIngestSampleKeepsExplicitIdentity(t *testing.T) {
	gw := gateway.NewMemory()
	ing := ingest.New(gw, testr.New(t))

	_, err := ing.Ingest(context.Background(), record.Record{
		"cpu":         1.0,
		"machine_id":  "mach-9",
		"adresse_mac": "aa:bb:cc:dd:ee:ff",
	})
	require.NoError(t, err)

	samples := gw.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, "mach-9", samples[0][record.FieldMachineID])
}

func TestIngestPropagatesGatewayFailure(t *testing.T) {
	gw := gateway.NewMemory()
	gw.FailWrites = errors.New("backend down")
	ing := ingest.New(gw, testr.New(t))

	_, err := ing.Ingest(context.Background(), record.Record{"cpu": 1.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}
