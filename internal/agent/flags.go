// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt
package agent

import (
	"flag"
	"time"
)

var (
	defaultCollectionInterval time.Duration
	defaultSendInterval       time.Duration
)

func init() {
	flag.DurationVar(&defaultCollectionInterval, "collection-interval", 2*time.Second,
		"How often a resource sample is collected and spooled.")
	flag.DurationVar(&defaultSendInterval, "send-interval", 30*time.Second,
		"How often the spool is drained to the collector.")
}
