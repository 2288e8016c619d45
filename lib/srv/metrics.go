/*
 * Quilt MCP Server
 * Copyright (C) 2025  Quilt Data, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package srv

import (
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"

	quiltmcp "github.com/quiltdata/quilt-mcp-server"
)

// Metrics are the server's prometheus collectors. Tool calls are labeled
// by tool name and outcome: "ok" or the stable error kind.
type Metrics struct {
	ToolCalls             *prometheus.CounterVec
	ToolCallDuration      *prometheus.HistogramVec
	CredentialCacheEvents *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors. A nil registerer uses
// the default registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: quiltmcp.MetricNamespace,
			Name:      quiltmcp.MetricToolCalls,
			Help:      "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: quiltmcp.MetricNamespace,
			Name:      quiltmcp.MetricToolCallDuration,
			Help:      "Tool call latency in seconds by tool name.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"tool"}),
		CredentialCacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: quiltmcp.MetricNamespace,
			Name:      quiltmcp.MetricCredentialCacheHits,
			Help:      "Credential cache hits and misses.",
		}, []string{"event"}),
	}
	for _, c := range []prometheus.Collector{
		m.ToolCalls, m.ToolCallDuration, m.CredentialCacheEvents,
	} {
		if err := reg.Register(c); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return m, nil
}
