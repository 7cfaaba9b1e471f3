// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package spool implements the durable on-disk buffer of not-yet-delivered
// telemetry records.
//
// Each record lives in its own file named <sequence>.json inside the data
// directory. Sequence 1 is reserved for the machine profile; samples take
// the lowest free sequence >= 2. All state is derived from the directory
// contents, never from in-memory counters, so it survives restarts. The
// directory has exactly one logical writer: the agent's collection loop.
package spool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

// ProfileSequence is the sequence number reserved for the machine profile.
const ProfileSequence uint64 = 1

// ErrQuotaExceeded is returned by WriteSample when the spool has reached
// its byte quota. Callers must back off collecting rather than drop data.
var ErrQuotaExceeded = errors.New("spool storage quota exceeded")

// Entry is one spooled record addressed by its sequence number.
type Entry struct {
	Sequence uint64
	// Filename is the entry's base name inside the data directory,
	// e.g. "2.json".
	Filename string
	Size     int64
	ModTime  time.Time
}

// Path returns the entry's absolute location under dir.
func (e Entry) Path(dir string) string {
	return filepath.Join(dir, e.Filename)
}

// Store manages the spool directory.
type Store struct {
	dir        string
	quotaBytes int64
	logger     logr.Logger
}

// New creates a Store and its data directory. Directory creation is
// idempotent; failure to create it is fatal to the agent and returned.
func New(opts ...Option) (*Store, error) {
	o := options{
		dataDir:    defaultDataDir,
		quotaBytes: defaultQuotaBytes,
		logger:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.dataDir == "" {
		return nil, fmt.Errorf("data directory must not be empty")
	}
	if o.quotaBytes <= 0 {
		return nil, fmt.Errorf("storage quota must be positive, got %d", o.quotaBytes)
	}
	if err := os.MkdirAll(o.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", o.dataDir, err)
	}

	return &Store{
		dir:        o.dataDir,
		quotaBytes: o.quotaBytes,
		logger:     o.logger.WithName("spool"),
	}, nil
}

// Dir returns the spool's data directory.
func (s *Store) Dir() string {
	return s.dir
}

// QuotaBytes returns the configured storage ceiling.
func (s *Store) QuotaBytes() int64 {
	return s.quotaBytes
}

func (s *Store) entryPath(seq uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.json", seq))
}

// ReserveNextSequence returns the lowest sequence >= 2 for which no entry
// file exists. The store has a single writer, so the returned sequence
// stays free until the caller writes it.
func (s *Store) ReserveNextSequence() (uint64, error) {
	for seq := ProfileSequence + 1; ; seq++ {
		_, err := os.Stat(s.entryPath(seq))
		if errors.Is(err, os.ErrNotExist) {
			return seq, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to probe sequence %d: %w", seq, err)
		}
	}
}

// HasProfile reports whether the profile entry exists. The check is purely
// file existence so it stays correct across restarts.
func (s *Store) HasProfile() bool {
	_, err := os.Stat(s.entryPath(ProfileSequence))
	return err == nil
}

// WriteProfile persists the machine profile at the reserved sequence. It is
// a no-op when the profile entry already exists, guaranteeing the profile
// is written at most once per spool lifetime no matter how many times the
// collection loop restarts.
func (s *Store) WriteProfile(rec record.Record) error {
	if s.HasProfile() {
		s.logger.V(1).Info("profile already spooled, skipping", "sequence", ProfileSequence)
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := s.writeEntry(ProfileSequence, data); err != nil {
		return err
	}
	s.logger.Info("spooled machine profile", "sequence", ProfileSequence)
	return nil
}

// WriteSample persists a sample record at a freshly reserved sequence and
// returns that sequence. When the spool is at its quota, or the encoded
// record would push it over, the write is refused with ErrQuotaExceeded
// and no entry is created.
func (s *Store) WriteSample(rec record.Record) (uint64, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode sample: %w", err)
	}

	used, err := s.TotalBytes()
	if err != nil {
		return 0, err
	}
	if used >= s.quotaBytes || used+int64(len(data)) > s.quotaBytes {
		s.logger.Info("storage quota reached, refusing sample",
			"used_bytes", used, "entry_bytes", len(data), "quota_bytes", s.quotaBytes)
		return 0, ErrQuotaExceeded
	}

	seq, err := s.ReserveNextSequence()
	if err != nil {
		return 0, err
	}
	if err := s.writeEntry(seq, data); err != nil {
		return 0, err
	}
	s.logger.V(1).Info("spooled sample", "sequence", seq)
	return seq, nil
}

// writeEntry writes the payload to a temp file and renames it into place so
// a crash mid-write never leaves a half-written entry under a live name.
func (s *Store) writeEntry(seq uint64, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".%d-*.tmp", seq))
	if err != nil {
		return fmt.Errorf("failed to create temp file for sequence %d: %w", seq, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write entry %d: %w", seq, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync entry %d: %w", seq, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close entry %d: %w", seq, err)
	}

	if err := os.Rename(tmpName, s.entryPath(seq)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish entry %d: %w", seq, err)
	}
	return nil
}

// Pending lists all spooled entries in ascending sequence order, the
// profile first when present. Each call re-scans the directory, so the
// result reflects current state after partial deliveries.
func (s *Store) Pending() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		seq, ok := parseEntryName(d.Name())
		if !ok {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Entry removed between ReadDir and Info.
			continue
		}
		entries = append(entries, Entry{
			Sequence: seq,
			Filename: d.Name(),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Sequence < entries[j].Sequence
	})
	return entries, nil
}

// Read returns the raw JSON payload of the entry.
func (s *Store) Read(seq uint64) ([]byte, error) {
	data, err := os.ReadFile(s.entryPath(seq))
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %d: %w", seq, err)
	}
	return data, nil
}

// Remove deletes the entry. It is idempotent: removing an absent entry is
// not an error.
func (s *Store) Remove(seq uint64) error {
	err := os.Remove(s.entryPath(seq))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove entry %d: %w", seq, err)
	}
	return nil
}

// TotalBytes returns the combined size of all entries currently on disk.
func (s *Store) TotalBytes() (int64, error) {
	entries, err := s.Pending()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total, nil
}

// SweepOlderThan removes entries whose last modification is older than
// maxAge. This bounds retention when the collector is permanently
// unreachable. It returns the number of entries removed.
func (s *Store) SweepOlderThan(maxAge time.Duration) (int, error) {
	entries, err := s.Pending()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.ModTime.After(cutoff) {
			continue
		}
		if err := s.Remove(e.Sequence); err != nil {
			return removed, err
		}
		s.logger.Info("removed expired entry", "sequence", e.Sequence, "age", time.Since(e.ModTime))
		removed++
	}
	return removed, nil
}

// DefaultRetention returns the flag-configured retention window for the
// periodic sweep.
func DefaultRetention() time.Duration {
	return time.Duration(defaultRetentionDay) * 24 * time.Hour
}

// parseEntryName extracts the sequence from an entry file name. Only names
// of the exact form <positive integer>.json are entries; everything else
// in the directory is ignored.
func parseEntryName(name string) (uint64, bool) {
	base, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(base, 10, 64)
	if err != nil || seq == 0 {
		return 0, false
	}
	return seq, true
}
