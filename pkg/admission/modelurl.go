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

package admission

import (
	"strings"

	"github.com/inferx/servingcore/pkg/serveerr"
)

// ModelSpec is one entry parsed from the model-store URL syntax of
// spec.md §6:
//
//	[<name>[:<ver>[:<engine>[:<device-spec>]]]=]<url>
type ModelSpec struct {
	Name       string
	Version    string
	Engine     string
	DeviceSpec string
	URL        string
}

// ParseModelSpec parses one entry of SERVING_MODEL_STORE. The
// "name[:ver[:engine[:device-spec]]]=" prefix is entirely optional;
// when absent, Name defaults to the URL's base form and Engine/
// DeviceSpec are left empty for the caller to default.
func ParseModelSpec(entry string) (ModelSpec, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return ModelSpec{}, serveerr.New(serveerr.BadSpec, "empty model-store entry")
	}

	eq := strings.Index(entry, "=")
	if eq < 0 {
		return ModelSpec{URL: entry, Name: defaultName(entry)}, nil
	}

	prefix, url := entry[:eq], entry[eq+1:]
	if url == "" {
		return ModelSpec{}, serveerr.New(serveerr.BadSpec, "model-store entry %q has no url after '='", entry)
	}

	parts := strings.SplitN(prefix, ":", 4)
	spec := ModelSpec{URL: url}
	switch len(parts) {
	case 4:
		spec.DeviceSpec = parts[3]
		fallthrough
	case 3:
		spec.Engine = parts[2]
		fallthrough
	case 2:
		spec.Version = parts[1]
		fallthrough
	case 1:
		spec.Name = parts[0]
	}

	if spec.Name == "" {
		return ModelSpec{}, serveerr.New(serveerr.BadSpec, "model-store entry %q has an empty name", entry)
	}
	return spec, nil
}

// ParseModelStore parses a "," or newline separated list of model-store
// entries, each in the form ParseModelSpec accepts.
func ParseModelStore(value string) ([]ModelSpec, error) {
	var specs []ModelSpec
	for _, line := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		spec, err := ParseModelSpec(line)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// defaultName derives a model name from a bare URL, taking the final
// path segment and trimming a common model-archive suffix.
func defaultName(url string) string {
	base := url
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	for _, suffix := range []string{".tar.gz", ".mar", ".zip"} {
		if strings.HasSuffix(base, suffix) {
			base = base[:len(base)-len(suffix)]
			break
		}
	}
	return base
}
