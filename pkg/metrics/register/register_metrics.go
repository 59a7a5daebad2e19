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

// Package register is blank-imported by cmd/servingd solely to run the
// init() side effects that register every built-in Prometheus collector.
package register

import (
	"github.com/inferx/servingcore/pkg/device"
	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/metrics"
	"github.com/inferx/servingcore/pkg/pool"
)

var log = logger.NewLogger("metrics-register")

func init() {
	if err := metrics.RegisterCollector("device", device.NewCollector); err != nil {
		log.Error("failed to register device collector: %v", err)
	}
	if err := metrics.RegisterCollector("pool", pool.NewCollector); err != nil {
		log.Error("failed to register pool collector: %v", err)
	}
}
