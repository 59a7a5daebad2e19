// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inferx/servingcore/pkg/config"
)

func TestRegisterAndGetModule(t *testing.T) {
	const collection = "test-register-1"

	m := config.Register("widgets", "widget knobs", config.WithConfig(collection))
	require.NotNil(t, m)

	c := config.GetConfig(collection)
	require.Equal(t, m, c.GetModule("widgets"))
}

func TestModuleSetVarAndReset(t *testing.T) {
	const collection = "test-setvar-1"

	var count int
	m := config.Register("batcher", "batcher knobs", config.WithConfig(collection))
	m.IntVar(&count, "MaxBatch", 4, "maximum batch size")

	require.NoError(t, m.SetVar("MaxBatch", "16"))
	require.Equal(t, 16, count)

	require.Error(t, m.SetVar("NoSuchVar", "1"))

	require.NoError(t, m.Reset())
	require.Equal(t, 4, count)
}

func TestConfigBackupRestore(t *testing.T) {
	const collection = "test-backup-1"

	var name string
	var workers int

	m := config.Register("pool", "pool knobs", config.WithConfig(collection))
	m.StringVar(&name, "Name", "default", "pool name")
	m.IntVar(&workers, "Workers", 1, "worker count")

	c := config.GetConfig(collection)
	snapshot := c.Backup()

	require.NoError(t, m.SetVar("Name", "gpu-pool"))
	require.NoError(t, m.SetVar("Workers", "8"))
	require.Equal(t, "gpu-pool", name)
	require.Equal(t, 8, workers)

	require.NoError(t, c.Restore(snapshot, "revert"))
	require.Equal(t, "default", name)
	require.Equal(t, 1, workers)
}

func TestConfigParseArgList(t *testing.T) {
	const collection = "test-parseargs-1"

	var notified int
	var level string

	m := config.Register("logging", "logging knobs", config.WithConfig(collection),
		config.WithNotify(func(event config.Event, source config.Source) error {
			notified++
			require.Equal(t, config.UpdateEvent, event)
			require.Equal(t, config.External, source)
			return nil
		}))
	m.StringVar(&level, "Level", "info", "log level")

	c := config.GetConfig(collection)
	err := c.ParseArgList([]string{"--logging.Level=debug"}, config.External, nil)
	require.NoError(t, err)
	require.Equal(t, "debug", level)
	require.Equal(t, 1, notified)
}

func TestConfigParseYAMLData(t *testing.T) {
	const collection = "test-parseyaml-1"

	var tensorParallel int
	var deviceSpec string

	m := config.Register("devices", "device knobs", config.WithConfig(collection))
	m.IntVar(&tensorParallel, "TensorParallel", 1, "tensor parallel degree")
	m.StringVar(&deviceSpec, "DeviceSpec", "", "device spec")

	c := config.GetConfig(collection)

	raw := []byte(`
devices:
  TensorParallel: 4
  DeviceSpec: "0-3"
`)
	require.NoError(t, c.ParseYAMLData(raw, config.ConfigFile))
	require.Equal(t, 4, tensorParallel)
	require.Equal(t, "0-3", deviceSpec)
}

func TestConfigSetModuleVar(t *testing.T) {
	const collection = "test-setmodvar-1"

	var maxIdle int
	m := config.Register("sweep", "idle sweep knobs", config.WithConfig(collection))
	m.IntVar(&maxIdle, "MaxIdleSeconds", 30, "idle sweep period")

	c := config.GetConfig(collection)
	require.NoError(t, c.SetModuleVar("sweep", "MaxIdleSeconds", "60"))
	require.Equal(t, 60, maxIdle)

	require.Error(t, c.SetModuleVar("nosuch", "MaxIdleSeconds", "60"))
}
