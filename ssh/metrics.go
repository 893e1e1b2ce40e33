// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"github.com/prometheus/client_golang/prometheus"
)

// connMetrics bundles the Prometheus collectors updated over the life of
// one connection: active sessions, bytes per direction, rekeys, auth
// failures, open channels, and channel window levels.
type connMetrics struct {
	activeSessions prometheus.Gauge
	bytesIn        prometheus.Counter
	bytesOut       prometheus.Counter
	rekeys         prometheus.Counter
	authFailures   prometheus.Counter
	openChannels   prometheus.Gauge
	channelWindow  prometheus.Histogram
}

// Metrics is the registry of collectors shared by every connection a
// Server or Dial creates; construct one with NewMetrics and register it
// with a prometheus.Registerer once at process startup.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	BytesIn        prometheus.Counter
	BytesOut       prometheus.Counter
	Rekeys         prometheus.Counter
	AuthFailures   prometheus.Counter
	OpenChannels   prometheus.Gauge
	ChannelWindow  prometheus.Histogram
}

// NewMetrics constructs the standard collector set, namespaced under
// "ssh", and registers them with reg (pass prometheus.DefaultRegisterer
// to use the global registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ssh", Name: "active_sessions", Help: "Number of currently established SSH transports.",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssh", Name: "bytes_in_total", Help: "Bytes read from the wire across all sessions.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssh", Name: "bytes_out_total", Help: "Bytes written to the wire across all sessions.",
		}),
		Rekeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssh", Name: "rekeys_total", Help: "Completed key re-exchanges across all sessions.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssh", Name: "auth_failures_total", Help: "Failed authentication attempts across all sessions.",
		}),
		OpenChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ssh", Name: "open_channels", Help: "Currently open logical channels across all sessions.",
		}),
		ChannelWindow: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ssh", Name: "channel_window_bytes", Help: "Remote window credit granted per CHANNEL_OPEN or WINDOW_ADJUST, in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ActiveSessions, m.BytesIn, m.BytesOut, m.Rekeys, m.AuthFailures, m.OpenChannels, m.ChannelWindow)
	}
	return m
}

func (m *Metrics) forConn() *connMetrics {
	if m == nil {
		return nil
	}
	return &connMetrics{
		activeSessions: m.ActiveSessions,
		bytesIn:        m.BytesIn,
		bytesOut:       m.BytesOut,
		rekeys:         m.Rekeys,
		authFailures:   m.AuthFailures,
		openChannels:   m.OpenChannels,
		channelWindow:  m.ChannelWindow,
	}
}

func (cm *connMetrics) channelOpened() {
	if cm != nil && cm.openChannels != nil {
		cm.openChannels.Inc()
	}
}

func (cm *connMetrics) channelClosed() {
	if cm != nil && cm.openChannels != nil {
		cm.openChannels.Dec()
	}
}

func (cm *connMetrics) authFailed() {
	if cm != nil && cm.authFailures != nil {
		cm.authFailures.Inc()
	}
}

func (cm *connMetrics) rekeyed() {
	if cm != nil && cm.rekeys != nil {
		cm.rekeys.Inc()
	}
}

func (cm *connMetrics) readBytes(n int) {
	if cm != nil && cm.bytesIn != nil {
		cm.bytesIn.Add(float64(n))
	}
}

func (cm *connMetrics) wroteBytes(n int) {
	if cm != nil && cm.bytesOut != nil {
		cm.bytesOut.Add(float64(n))
	}
}

func (cm *connMetrics) windowGranted(n uint32) {
	if cm != nil && cm.channelWindow != nil {
		cm.channelWindow.Observe(float64(n))
	}
}
