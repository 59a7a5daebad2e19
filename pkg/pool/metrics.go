// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package pool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	workerCountDesc = prometheus.NewDesc(
		"pool_worker_count",
		"Number of live workers in a model's WorkerPool.",
		[]string{"model_id"}, nil,
	)
	queueDepthDesc = prometheus.NewDesc(
		"pool_queue_depth",
		"Number of jobs currently queued for a model's WorkerPool.",
		[]string{"model_id"}, nil,
	)
)

var (
	liveMu   sync.Mutex
	livePool = make(map[string]*Pool)
)

// track registers p so the metrics collector can report on it; called
// from Register, removed from Unregister.
func (p *Pool) track() {
	liveMu.Lock()
	livePool[p.cfg.ModelID] = p
	liveMu.Unlock()
}

func (p *Pool) untrack() {
	liveMu.Lock()
	delete(livePool, p.cfg.ModelID)
	liveMu.Unlock()
}

// QueueDepth reports how many jobs are currently queued, for metrics and tests.
func (p *Pool) QueueDepth() int {
	return p.q.Len()
}

type collector struct{}

// NewCollector creates the worker-pool Prometheus collector, reporting
// on every Pool currently registered via the admission Manager.
func NewCollector() (prometheus.Collector, error) {
	return &collector{}, nil
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- workerCountDesc
	ch <- queueDepthDesc
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	liveMu.Lock()
	pools := make([]*Pool, 0, len(livePool))
	for _, p := range livePool {
		pools = append(pools, p)
	}
	liveMu.Unlock()

	for _, p := range pools {
		ch <- prometheus.MustNewConstMetric(workerCountDesc, prometheus.GaugeValue, float64(p.WorkerCount()), p.cfg.ModelID)
		ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(p.QueueDepth()), p.cfg.ModelID)
	}
}
