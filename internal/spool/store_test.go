// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package spool_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyemte/collector-agent-and-server/internal/spool"
	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

func newTestStore(t *testing.T, opts ...spool.Option) *spool.Store {
	t.Helper()
	opts = append([]spool.Option{spool.WithDataDir(t.TempDir())}, opts...)
	store, err := spool.New(opts...)
	require.NoError(t, err)
	return store
}

func sampleRecord() record.Record {
	return record.Record{
		"timestamp": "2025-01-01 00:00:00",
		"cpu":       map[string]any{"global_utilise": 42.0},
	}
}

func profileRecord() record.Record {
	return record.Record{
		"os":           map[string]any{"nom": "Linux"},
		"type_machine": 1,
	}
}

func TestNewCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	_, err := spool.New(spool.WithDataDir(dir))
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Creation is idempotent.
	_, err = spool.New(spool.WithDataDir(dir))
	assert.NoError(t, err)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := spool.New(spool.WithDataDir(""))
	assert.Error(t, err)

	_, err = spool.New(spool.WithDataDir(t.TempDir()), spool.WithQuotaBytes(0))
	assert.Error(t, err)
}

func TestReserveNextSequenceNeverCollides(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 10; i++ {
		seq, err := store.ReserveNextSequence()
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(store.Dir(), entryName(seq)))
		assert.ErrorIs(t, err, os.ErrNotExist, "reserved sequence %d must be free", seq)

		written, err := store.WriteSample(sampleRecord())
		require.NoError(t, err)
		assert.Equal(t, seq, written)
	}
}

func TestReserveSkipsExistingEntries(t *testing.T) {
	store := newTestStore(t)

	// Occupy 2 and 3, leave 4 free.
	_, err := store.WriteSample(sampleRecord())
	require.NoError(t, err)
	_, err = store.WriteSample(sampleRecord())
	require.NoError(t, err)

	seq, err := store.ReserveNextSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)

	// Removing 2 frees the lowest slot again.
	require.NoError(t, store.Remove(2))
	seq, err = store.ReserveNextSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}

func TestWriteProfileIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	assert.False(t, store.HasProfile())

	require.NoError(t, store.WriteProfile(profileRecord()))
	assert.True(t, store.HasProfile())

	first, err := store.Read(spool.ProfileSequence)
	require.NoError(t, err)

	// A second write with different content is ignored: the check is file
	// existence, not content equality.
	other := profileRecord()
	other["os"] = "changed"
	require.NoError(t, store.WriteProfile(other))

	second, err := store.Read(spool.ProfileSequence)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	entries, err := store.Pending()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, spool.ProfileSequence, entries[0].Sequence)
}

func TestPendingOrderedProfileFirst(t *testing.T) {
	store := newTestStore(t)

	_, err := store.WriteSample(sampleRecord())
	require.NoError(t, err)
	_, err = store.WriteSample(sampleRecord())
	require.NoError(t, err)
	require.NoError(t, store.WriteProfile(profileRecord()))

	entries, err := store.Pending()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, uint64(2), entries[1].Sequence)
	assert.Equal(t, uint64(3), entries[2].Sequence)
	assert.Equal(t, "1.json", entries[0].Filename)
}

func TestPendingIgnoresForeignFiles(t *testing.T) {
	store := newTestStore(t)
	_, err := store.WriteSample(sampleRecord())
	require.NoError(t, err)

	for _, name := range []string{"notes.txt", "0.json", "-1.json", "abc.json", ".2-x.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), name), []byte("x"), 0o644))
	}

	entries, err := store.Pending()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(2), entries[0].Sequence)
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	seq, err := store.WriteSample(sampleRecord())
	require.NoError(t, err)

	require.NoError(t, store.Remove(seq))
	assert.NoError(t, store.Remove(seq), "removing an absent entry must not error")
}

func TestTotalBytesTracksWritesAndRemoves(t *testing.T) {
	store := newTestStore(t)

	total, err := store.TotalBytes()
	require.NoError(t, err)
	assert.Zero(t, total)

	seq, err := store.WriteSample(sampleRecord())
	require.NoError(t, err)

	afterWrite, err := store.TotalBytes()
	require.NoError(t, err)
	assert.Greater(t, afterWrite, total)

	require.NoError(t, store.Remove(seq))
	afterRemove, err := store.TotalBytes()
	require.NoError(t, err)
	assert.Less(t, afterRemove, afterWrite)
	assert.Zero(t, afterRemove)
}

func TestQuotaRefusesSampleWrites(t *testing.T) {
	store := newTestStore(t, spool.WithQuotaBytes(100))

	// ~60 bytes per entry once encoded.
	big := record.Record{"payload": "0123456789012345678901234567890123456789"}

	_, err := store.WriteSample(big)
	require.NoError(t, err)

	_, err = store.WriteSample(big)
	require.ErrorIs(t, err, spool.ErrQuotaExceeded)

	// The refused entry was never created.
	entries, err := store.Pending()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Draining below the quota lifts the refusal.
	require.NoError(t, store.Remove(entries[0].Sequence))
	_, err = store.WriteSample(big)
	assert.NoError(t, err)
}

func TestSweepOlderThan(t *testing.T) {
	store := newTestStore(t)

	oldSeq, err := store.WriteSample(sampleRecord())
	require.NoError(t, err)
	_, err = store.WriteSample(sampleRecord())
	require.NoError(t, err)

	// Age the first entry past the cutoff.
	oldPath := filepath.Join(store.Dir(), entryName(oldSeq))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	removed, err := store.SweepOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err := store.Pending()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(3), entries[0].Sequence)
}

func entryName(seq uint64) string {
	return fmt.Sprintf("%d.json", seq)
}
