// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package spool

import (
	"flag"

	"github.com/go-logr/logr"
)

var (
	defaultDataDir      string
	defaultQuotaBytes   int64
	defaultRetentionDay int
)

func init() {
	flag.StringVar(&defaultDataDir, "data-directory", "data",
		"The directory where not-yet-delivered telemetry records are spooled.")
	flag.Int64Var(&defaultQuotaBytes, "storage-limit-bytes", 200*1024*1024,
		"Maximum total size of spooled records. New samples are refused once the limit is reached.")
	flag.IntVar(&defaultRetentionDay, "retention-days", 30,
		"Spooled records older than this many days are removed by the retention sweep.")
}

type Option func(*options)

type options struct {
	dataDir    string
	quotaBytes int64
	logger     logr.Logger
}

func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = dir
	}
}

func WithQuotaBytes(n int64) Option {
	return func(o *options) {
		o.quotaBytes = n
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
