//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
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
//

// Package pflagenv fills unset flags from the environment.
package pflagenv

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// ParseFlagSet sets every flag of fs that was not given on the command
// line from the environment variable named envPrefix plus the uppercased
// flag name, "-" replaced with "_". Call it after fs.Parse: command-line
// values win, and empty environment variables are ignored. Flags filled
// this way count as set, so required-flag checks accept them.
func ParseFlagSet(fs *pflag.FlagSet, envPrefix string) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		v := os.Getenv(envName(envPrefix, f.Name))
		if v == "" {
			return
		}
		f.Value.Set(v)
		f.Changed = true
	})
}

// Parse is ParseFlagSet on pflag.CommandLine.
func Parse(envPrefix string) {
	ParseFlagSet(pflag.CommandLine, envPrefix)
}

func envName(envPrefix, flagName string) string {
	return envPrefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}
