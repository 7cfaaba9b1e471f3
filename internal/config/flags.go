// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import "flag"

var defaultPath string

func init() {
	flag.StringVar(&defaultPath, "config-file", "",
		"Path to an optional YAML config file overriding flag defaults",
	)
}

// DefaultPath returns the -config-file flag value. Empty means no file.
func DefaultPath() string {
	return defaultPath
}
