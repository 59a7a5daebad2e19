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

package config

import (
	"fmt"
	"sort"
)

// Describe provides help about configuration of the given modules of the
// default runtime configuration collection. With no names it describes
// every registered module.
func Describe(names ...string) {
	c := DefaultConfig()

	if len(names) == 0 {
		names = make([]string, 0, len(c.modules))
		for name := range c.modules {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	found := false
	for _, name := range names {
		m, ok := c.modules[name]
		if !ok {
			continue
		}
		found = true
		m.showHelp()
		fmt.Printf("\n\n")
	}

	if !found {
		fmt.Printf("No matching modules found.\n")
	}
}

// showHelp prints a module's description and its flags.
func (m *Module) showHelp() {
	fmt.Printf("- module %s: %s\n", m.name, m.description)
	m.Usage()
}
