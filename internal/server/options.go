// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package server

import (
	"flag"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultListenAddr string
)

func init() {
	flag.StringVar(&defaultListenAddr, "listen-address", ":12345",
		"The address the collector's TCP listener binds to.")
}

type Option func(*options)

type options struct {
	listenAddr string
	logger     logr.Logger
	registerer prometheus.Registerer
}

func WithListenAddress(addr string) Option {
	return func(o *options) {
		o.listenAddr = addr
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
