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

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/inferx/servingcore/pkg/config"
	"github.com/inferx/servingcore/pkg/device"
)

const (
	moduleName = "serving"
	moduleHelp = "Configuration for the model-serving workload manager."

	envSharedDevices = "SERVING_SHARED_DEVICES"
	envModelStore    = "SERVING_MODEL_STORE"
	envDeviceCount   = "SERVING_DEVICE_COUNT"
)

// sharedDevicesSpec is the flag.Value for SERVING_SHARED_DEVICES: an
// integer count, or a float ratio in (0,1], or unset ("" == ALL).
type sharedDevicesSpec struct {
	raw     string
	count   int
	ratio   float64
	isRatio bool
	isSet   bool
}

func (s *sharedDevicesSpec) String() string {
	return s.raw
}

func (s *sharedDevicesSpec) Set(value string) error {
	if value == "" {
		*s = sharedDevicesSpec{}
		return nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		*s = sharedDevicesSpec{raw: value, count: n, isSet: true}
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: neither an integer count nor a float ratio", envSharedDevices, value)
	}
	*s = sharedDevicesSpec{raw: value, ratio: f, isRatio: true, isSet: true}
	return nil
}

// Resolve turns the spec into a device.MaxShared bound to n discovered
// devices. A nil result tells the Registry to default to ALL.
func (s *sharedDevicesSpec) Resolve(n int) *device.MaxShared {
	if !s.isSet {
		return nil
	}
	if s.isRatio {
		count := int(s.ratio * float64(n))
		if count < 1 {
			count = 1
		}
		return &device.MaxShared{Count: count}
	}
	return &device.MaxShared{Count: s.count}
}

// options captures cmd/servingd's own runtime configuration, on top of
// what each collaborator package (log, device, pool) registers for itself.
type options struct {
	// SharedDevices resolves spec.md §6's SERVING_SHARED_DEVICES.
	SharedDevices sharedDevicesSpec
	// ModelStore is spec.md §6's SERVING_MODEL_STORE filesystem path root;
	// every entry directly under it is preloaded as a model at startup.
	ModelStore string
	// QueueCapMultiplier is exposed as the queue-capacity-multiplier flag.
	// Nothing in servingd reads it: every model's Job Queue gets the
	// pool default capacity of 2*batchSize.
	QueueCapMultiplier int
	// IdleSweepPeriod is the maxIdleTime given to every model preloaded
	// from ModelStore; each such pool sweeps for idle workers every half
	// of it.
	IdleSweepPeriod time.Duration
	// MetricsListen is the address the Prometheus /metrics endpoint binds to.
	MetricsListen string
	// DeviceCount is the size of the process-wide Device slice D0..Dn-1.
	// Real hardware discovery is an out-of-scope collaborator (spec.md §1);
	// this is the stand-in knob for it, 0 meaning CPU-only.
	DeviceCount int
}

func defaultOptions() interface{} {
	return &options{
		QueueCapMultiplier: 2,
		IdleSweepPeriod:    30 * time.Second,
		MetricsListen:      ":9108",
		DeviceCount:        0,
	}
}

var opt = defaultOptions().(*options)

func init() {
	m := config.Register(moduleName, moduleHelp)
	m.Var(&opt.SharedDevices, "shared-devices",
		"maxSharedDevice as an integer count or a float ratio in (0,1]; unset means ALL.")
	m.StringVar(&opt.ModelStore, "model-store", opt.ModelStore,
		"filesystem path root; every entry under it is preloaded as a model at startup.")
	m.IntVar(&opt.QueueCapMultiplier, "queue-capacity-multiplier", opt.QueueCapMultiplier,
		"not read; every Job Queue holds 2x a model's batch size.")
	m.DurationVar(&opt.IdleSweepPeriod, "idle-sweep-period", opt.IdleSweepPeriod,
		"maxIdleTime of models preloaded from the model store; idle workers are swept every half of it.")
	m.StringVar(&opt.MetricsListen, "metrics-listen", opt.MetricsListen,
		"address the Prometheus /metrics endpoint listens on.")
	m.IntVar(&opt.DeviceCount, "device-count", opt.DeviceCount,
		"number of accelerator devices to manage; 0 runs CPU-only.")

	// Command-line flags set the defaults; the environment, per spec.md
	// §6, overrides them for the actual run, matching the teacher's own
	// "flags set defaults, config changes runtime state" split in pkg/log.
	if v := os.Getenv(envSharedDevices); v != "" {
		if err := opt.SharedDevices.Set(v); err != nil {
			log.Warn("%v", err)
		}
	}
	if v := os.Getenv(envModelStore); v != "" {
		opt.ModelStore = v
	}
	if v := os.Getenv(envDeviceCount); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opt.DeviceCount = n
		} else {
			log.Warn("invalid %s value %q: %v", envDeviceCount, v, err)
		}
	}
}
