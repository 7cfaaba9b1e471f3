// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	framesReceived  prometheus.Counter
	framesPersisted *prometheus.CounterVec
	framesRejected  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_frames_received_total",
			Help: "Frames received on the TCP listener.",
		}),
		framesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_frames_persisted_total",
			Help: "Frames successfully persisted, by record kind.",
		}, []string{"kind"}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_frames_rejected_total",
			Help: "Frames rejected with an error reply, by reason.",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_active_sessions",
			Help: "Currently open client connections.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.framesReceived, m.framesPersisted, m.framesRejected, m.activeSessions)
	}
	return m
}
