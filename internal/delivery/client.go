// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package delivery drains the spool store to the collector. Each cycle
// opens one connection, streams the pending entries in ascending sequence
// order, and removes an entry only after the collector acknowledges it.
package delivery

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/iyemte/collector-agent-and-server/internal/spool"
	"github.com/iyemte/collector-agent-and-server/internal/wire"
	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

// Client delivers spooled entries to the collector.
type Client struct {
	store     *spool.Store
	machineID string

	collectorAddr  string
	connectTimeout time.Duration
	replyTimeout   time.Duration

	fallbackURL string
	httpClient  *http.Client

	logger logr.Logger
}

func New(store *spool.Store, machineID string, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("spool store is required")
	}
	if machineID == "" {
		return nil, fmt.Errorf("machine identity is required")
	}

	o := options{
		collectorAddr:  defaultCollectorAddr,
		connectTimeout: defaultConnectTimeout,
		replyTimeout:   defaultReplyTimeout,
		fallbackURL:    defaultFallbackURL,
		logger:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		store:          store,
		machineID:      machineID,
		collectorAddr:  o.collectorAddr,
		connectTimeout: o.connectTimeout,
		replyTimeout:   o.replyTimeout,
		fallbackURL:    o.fallbackURL,
		httpClient:     &http.Client{Timeout: o.replyTimeout},
		logger:         o.logger.WithName("delivery"),
	}, nil
}

// Deliver runs one delivery cycle and returns the number of entries the
// collector acknowledged. A transport or acknowledgment failure aborts the
// remainder of the cycle; unacknowledged entries stay spooled for the next
// one. An unreachable collector is not an error when the HTTP fallback
// also is not configured: it is logged and the cycle is skipped.
func (c *Client) Deliver(ctx context.Context) (int, error) {
	entries, err := c.store.Pending()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		c.logger.V(1).Info("nothing to deliver")
		return 0, nil
	}

	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.collectorAddr)
	if err != nil {
		c.logger.Info("collector unreachable, will retry next cycle",
			"address", c.collectorAddr, "reason", err.Error())
		if c.fallbackURL != "" {
			return c.deliverHTTP(ctx, entries)
		}
		return 0, nil
	}
	defer conn.Close()

	c.logger.V(1).Info("connected to collector", "address", c.collectorAddr, "pending", len(entries))

	reader := bufio.NewReader(conn)
	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		if err := c.sendEntry(conn, reader, entry); err != nil {
			// The entry was never removed, so it is resent verbatim on
			// the next cycle.
			c.logger.Info("delivery cycle aborted",
				"sequence", entry.Sequence, "delivered", delivered, "reason", err.Error())
			return delivered, nil
		}

		if err := c.store.Remove(entry.Sequence); err != nil {
			return delivered, fmt.Errorf("failed to remove acknowledged entry %d: %w", entry.Sequence, err)
		}
		delivered++
		c.logger.V(1).Info("entry delivered", "sequence", entry.Sequence)
	}

	c.logger.Info("delivery cycle complete", "delivered", delivered)
	return delivered, nil
}

// sendEntry performs one frame round-trip: write the envelope, read one
// reply line under the reply timeout, and interpret the acknowledgment.
func (c *Client) sendEntry(conn net.Conn, reader *bufio.Reader, entry spool.Entry) error {
	payload, err := c.store.Read(entry.Sequence)
	if err != nil {
		return err
	}

	frame, err := wire.EncodeFrame(wire.Envelope{
		Filename:  entry.Filename,
		Content:   string(payload),
		MachineID: c.machineID,
		Timestamp: wire.Timestamp(time.Now()),
	})
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(c.replyTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send entry %d: %w", entry.Sequence, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.replyTimeout)); err != nil {
		return err
	}
	reply, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read acknowledgment for entry %d: %w", entry.Sequence, err)
	}

	if err := wire.ParseReply(reply); err != nil {
		return fmt.Errorf("entry %d not acknowledged: %w", entry.Sequence, err)
	}
	return nil
}

// deliverHTTP pushes entries through the collector's HTTP ingress when the
// TCP listener is unreachable. Records are submitted unwrapped with the
// machine identity stamped, matching what the listener would have stored.
func (c *Client) deliverHTTP(ctx context.Context, entries []spool.Entry) (int, error) {
	c.logger.Info("falling back to HTTP delivery", "url", c.fallbackURL, "pending", len(entries))

	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		if err := c.submitEntry(ctx, entry); err != nil {
			c.logger.Info("http delivery aborted",
				"sequence", entry.Sequence, "delivered", delivered, "reason", err.Error())
			return delivered, nil
		}

		if err := c.store.Remove(entry.Sequence); err != nil {
			return delivered, fmt.Errorf("failed to remove acknowledged entry %d: %w", entry.Sequence, err)
		}
		delivered++
	}
	return delivered, nil
}

func (c *Client) submitEntry(ctx context.Context, entry spool.Entry) error {
	payload, err := c.store.Read(entry.Sequence)
	if err != nil {
		return err
	}

	var rec record.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("entry %d is not valid JSON: %w", entry.Sequence, err)
	}
	record.StampMachineID(rec, c.machineID)

	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fallbackURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit entry %d: %w", entry.Sequence, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("entry %d rejected with status %d", entry.Sequence, resp.StatusCode)
	}
	return nil
}
