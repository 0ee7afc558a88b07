// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fuse

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-connection op metrics. A nil *opMetrics records nothing.
type opMetrics struct {
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// newOpMetrics registers the metrics for the connection with the given ID,
// or returns nil if reg is nil. Connections sharing a registry are told apart
// by a "conn" label.
func newOpMetrics(reg prometheus.Registerer, connID string) *opMetrics {
	if reg == nil {
		return nil
	}

	f := promauto.With(prometheus.WrapRegistererWith(
		prometheus.Labels{"conn": connID},
		reg))

	return &opMetrics{
		ops: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fuse",
				Name:      "ops_total",
				Help:      "Ops replied to, by op type and reply status.",
			},
			[]string{"op", "status"}),

		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fuse",
				Name:      "op_duration_seconds",
				Help:      "Time from reading an op to replying to it.",
				Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
			[]string{"op"}),

		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fuse",
				Name:      "ops_in_flight",
				Help:      "Ops read from the kernel and not yet replied to.",
			}),
	}
}

func (m *opMetrics) opStarted() {
	if m == nil {
		return
	}

	m.inFlight.Inc()
}

// opFinished records the reply to an op. status is "OK" or the name of the
// error number sent.
func (m *opMetrics) opFinished(op string, status string, d time.Duration) {
	if m == nil {
		return
	}

	m.inFlight.Dec()
	m.ops.WithLabelValues(op, status).Inc()
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}
