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

package device

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var occupancyDesc = prometheus.NewDesc(
	"device_occupancy",
	"Occupancy of each managed device: 0=free, 1=exclusive, 2=shared.",
	[]string{"id"}, nil,
)

var (
	activeMu sync.Mutex
	active   *Registry
)

// SetActiveRegistry designates reg as the one the Prometheus collector
// reports on. The process has exactly one Registry per device kind;
// cmd/servingd calls this once at startup with the singleton it built.
func SetActiveRegistry(reg *Registry) {
	activeMu.Lock()
	active = reg
	activeMu.Unlock()
}

type collector struct{}

// NewCollector creates the device-occupancy Prometheus collector.
func NewCollector() (prometheus.Collector, error) {
	return &collector{}, nil
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- occupancyDesc
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	activeMu.Lock()
	reg := active
	activeMu.Unlock()
	if reg == nil {
		return
	}
	for id, state := range reg.Occupancy() {
		ch <- prometheus.MustNewConstMetric(occupancyDesc, prometheus.GaugeValue, float64(state), strconv.Itoa(id))
	}
}
