// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package delivery

import (
	"flag"
	"time"

	"github.com/go-logr/logr"
)

var (
	defaultCollectorAddr  string
	defaultConnectTimeout time.Duration
	defaultReplyTimeout   time.Duration
	defaultFallbackURL    string
)

func init() {
	flag.StringVar(&defaultCollectorAddr, "collector-address", "127.0.0.1:12345",
		"The host:port of the collector's TCP listener.")
	flag.DurationVar(&defaultConnectTimeout, "connect-timeout", 5*time.Second,
		"Timeout for establishing a connection to the collector.")
	flag.DurationVar(&defaultReplyTimeout, "reply-timeout", 10*time.Second,
		"Timeout for reading one acknowledgment from the collector.")
	flag.StringVar(&defaultFallbackURL, "http-fallback-url", "",
		"Base URL of the collector's HTTP ingress, used when the TCP listener is unreachable. Empty disables the fallback.")
}

type Option func(*options)

type options struct {
	collectorAddr  string
	connectTimeout time.Duration
	replyTimeout   time.Duration
	fallbackURL    string
	logger         logr.Logger
}

// WithCollectorAddress sets the collector's TCP address.
func WithCollectorAddress(addr string) Option {
	return func(o *options) {
		o.collectorAddr = addr
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

func WithReplyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.replyTimeout = d
	}
}

// WithHTTPFallback sets the base URL of the collector's HTTP ingress, used
// when the TCP listener cannot be reached. Empty disables the fallback.
func WithHTTPFallback(baseURL string) Option {
	return func(o *options) {
		o.fallbackURL = baseURL
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
