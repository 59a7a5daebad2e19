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

// Command servingd is the process that hosts the model-serving core:
// the Device Registry/Planner and the Admission façade the front-end
// collaborator calls into. It has no HTTP/gRPC front end of its own
// (out of scope per spec.md §1) beyond the Prometheus /metrics
// endpoint; wiring a real front end means embedding pkg/admission.
package main

import (
	"flag"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/inferx/servingcore/pkg/config"
	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/pidfile"
	"github.com/inferx/servingcore/pkg/version"
)

var log = logger.NewLogger("servingd")

func main() {
	listModules := flag.Bool("list-config", false, "List registered configuration modules and exit.")
	pidFilePath := flag.String("pid-file", "", "Write the process PID to this file.")
	flag.Parse()

	if *pidFilePath != "" {
		pidfile.SetPath(*pidFilePath)
	}

	switch {
	case *listModules:
		config.Describe()
		os.Exit(0)

	default:
		if args := flag.Args(); len(args) > 0 {
			switch args[0] {
			case "config-help", "help":
				config.Describe(args[1:]...)
				os.Exit(0)
			default:
				log.Error("unknown command line arguments: %s", strings.Join(flag.Args(), ","))
				flag.Usage()
				os.Exit(1)
			}
		}
	}

	logger.SetStdLogger("stdlog")
	logger.SetupDebugToggleSignal(syscall.SIGUSR1)
	log.Info("servingd (version %s, build %s) starting...", version.Version, version.Build)

	if err := pidfile.Write(); err != nil {
		log.Error("failed to write PID file: %v", err)
		os.Exit(2)
	}
	defer pidfile.Remove()

	srv, err := newServer()
	if err != nil {
		log.Error("failed to start servingd: %v", err)
		os.Exit(2)
	}
	defer srv.stop()

	srv.loadModelStore()

	for {
		time.Sleep(15 * time.Second)
	}
}
