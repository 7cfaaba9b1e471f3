// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package wire implements the newline-delimited JSON frame format spoken
// between the delivery client and the collector listener.
//
// Each frame is one UTF-8 JSON document terminated by '\n'. The client
// sends envelopes wrapping a spooled record; the collector replies with a
// bare "OK" line on success or an "ERROR: <reason>" line on failure.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

// TimestampLayout is the timestamp format carried in envelopes and stamped
// into records that arrive without one.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	// ReplyOK is the positive acknowledgment line.
	ReplyOK = "OK"
	// replyErrorPrefix starts every negative acknowledgment line.
	replyErrorPrefix = "ERROR:"
)

// Envelope wraps one spooled record together with its delivery metadata.
// Content is the record re-encoded as a JSON string, exactly as stored in
// the spool file.
type Envelope struct {
	Filename  string `json:"filename"`
	Content   string `json:"content"`
	MachineID string `json:"machine_id"`
	Timestamp string `json:"timestamp"`
}

// EncodeFrame serializes env as a single frame, including the trailing
// newline.
func EncodeFrame(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// Timestamp returns the current time in the wire timestamp layout.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// DecodeRecord parses one received frame (without its newline) into the
// record to persist.
//
// A frame that carries filename and content fields is an envelope: the
// nested content is decoded and the envelope's machine identity is stamped
// onto it. Any other JSON object is treated as a bare record and returned
// as-is.
func DecodeRecord(line []byte) (record.Record, error) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	rawContent, hasContent := frame["content"]
	_, hasFilename := frame["filename"]
	if !hasContent || !hasFilename {
		var rec record.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("invalid record: %w", err)
		}
		// "null" decodes into a nil map without error.
		if rec == nil {
			return nil, fmt.Errorf("frame is not a JSON object")
		}
		return rec, nil
	}

	var content string
	if err := json.Unmarshal(rawContent, &content); err != nil {
		return nil, fmt.Errorf("invalid envelope content field: %w", err)
	}

	var rec record.Record
	if err := json.Unmarshal([]byte(content), &rec); err != nil {
		return nil, fmt.Errorf("invalid record inside envelope: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("envelope content is not a JSON object")
	}

	if rawID, ok := frame["machine_id"]; ok {
		var id string
		if err := json.Unmarshal(rawID, &id); err == nil && id != "" {
			rec[record.FieldMachineID] = id
		}
	}

	return rec, nil
}

// OKReply returns the positive acknowledgment frame.
func OKReply() []byte {
	return []byte(ReplyOK + "\n")
}

// ErrorReply returns a negative acknowledgment frame with the given reason.
// Newlines in the reason would break the framing and are flattened.
func ErrorReply(reason string) []byte {
	reason = strings.ReplaceAll(reason, "\n", " ")
	return []byte(replyErrorPrefix + " " + reason + "\n")
}

// ParseReply interprets a reply line from the collector. It returns nil for
// a positive acknowledgment and a descriptive error otherwise.
func ParseReply(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if line == ReplyOK {
		return nil
	}
	if rest, ok := strings.CutPrefix(line, replyErrorPrefix); ok {
		return fmt.Errorf("collector rejected frame: %s", strings.TrimSpace(rest))
	}
	return fmt.Errorf("unexpected reply from collector: %q", line)
}
