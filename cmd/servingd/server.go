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
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inferx/servingcore/pkg/admission"
	"github.com/inferx/servingcore/pkg/device"
	"github.com/inferx/servingcore/pkg/engine"
	"github.com/inferx/servingcore/pkg/engine/loopback"
	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/metrics"
	_ "github.com/inferx/servingcore/pkg/metrics/register"
)

// server wires together the process-wide Device Registry, Planner and
// Admission Manager, the same way resmgr wires together its cache,
// policy and relay: one struct, built up by a sequence of setupX
// steps that each may fail registration outright.
type server struct {
	logger.Logger

	registry  *device.Registry
	planner   *device.Planner
	manager   *admission.Manager
	metricsSv *http.Server
}

// newServer builds a server from the parsed configuration, wiring the
// Device Registry/Planner pair and the engines this build links in.
func newServer() (*server, error) {
	s := &server{Logger: logger.NewLogger("servingd")}

	s.setupRegistry()
	s.setupAdmission()

	if err := s.setupMetricsServer(); err != nil {
		return nil, err
	}

	return s, nil
}

// setupRegistry brings up the process-wide Device Registry and Planner,
// per spec.md §4: a single ordered D0..Dn-1 sequence fixed for the
// process lifetime.
func (s *server) setupRegistry() {
	maxShared := opt.SharedDevices.Resolve(opt.DeviceCount)
	s.registry = device.NewRegistry(opt.DeviceCount, maxShared)
	s.planner = device.NewPlanner(s.registry)
	device.SetActiveRegistry(s.registry)
	s.Info("device registry ready: %d device(s), shared window %v", opt.DeviceCount, maxShared)
}

// setupAdmission builds the Admission façade, binding engine names to
// the adapters linked into this build. Only "loopback" ships today;
// real engines (pytorch/vLLM/Triton-style backends) are an out-of-scope
// collaborator per spec.md §1 and would register here the same way.
func (s *server) setupAdmission() {
	s.manager = admission.NewManager(s.planner, resolveEngine)
}

// resolveEngine is the admission.EngineResolver for this build.
func resolveEngine(name string) (engine.Adapter, engine.Capabilities, error) {
	switch name {
	case "", "loopback":
		a := loopback.New()
		return a, a.Capabilities(), nil
	default:
		a := loopback.New()
		caps := a.Capabilities()
		log.Warn("engine %q is not linked into this build, falling back to loopback", name)
		return a, caps, nil
	}
}

// setupMetricsServer starts the Prometheus /metrics HTTP endpoint in
// the background; metrics sinks are an out-of-scope external
// collaborator per spec.md §1, but the ambient stack carries them
// regardless (SPEC_FULL.md's AMBIENT STACK section).
func (s *server) setupMetricsServer() error {
	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.metricsSv = &http.Server{Addr: opt.MetricsListen, Handler: mux}

	go func() {
		if err := s.metricsSv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Error("metrics server exited: %v", err)
		}
	}()

	s.Info("metrics listening on %s", opt.MetricsListen)
	return nil
}

// loadModelStore preloads every entry directly under SERVING_MODEL_STORE
// as a registered model, per spec.md §6. It is best-effort: a model that
// fails to register is logged and skipped, not fatal to the process.
func (s *server) loadModelStore() {
	if opt.ModelStore == "" {
		return
	}

	entries, err := os.ReadDir(opt.ModelStore)
	if err != nil {
		s.Warn("model store %q: %v", opt.ModelStore, err)
		return
	}

	for _, entry := range entries {
		path := opt.ModelStore + string(os.PathSeparator) + entry.Name()
		spec, err := admission.ParseModelSpec(path)
		if err != nil {
			s.Warn("model store entry %q: %v", entry.Name(), err)
			continue
		}

		req := admission.RegisterRequest{
			Name:          spec.Name,
			Version:       spec.Version,
			URL:           spec.URL,
			Engine:        spec.Engine,
			DeviceSpec:    spec.DeviceSpec,
			MaxWorkers:    1,
			BatchSize:     1,
			MaxBatchDelay: 50 * time.Millisecond,
			MaxIdleTime:   opt.IdleSweepPeriod,
		}
		if err := s.manager.Register(req); err != nil {
			s.Warn("failed to preload model %q: %v", spec.Name, err)
			continue
		}
		s.Info("preloaded model %q from %s", spec.Name, path)
	}
}

// stop tears down the metrics server. The Admission Manager itself has
// no process-wide Stop: each model's WorkerPool is torn down through
// Unregister, driven by the front end, not by process shutdown.
func (s *server) stop() {
	if s.metricsSv != nil {
		_ = s.metricsSv.Close()
	}
}
