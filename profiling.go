// Copyright 2017 Box, Inc.  All rights reserved.
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
	"runtime"
	"runtime/pprof"

	"go.uber.org/multierr"
)

var knownProfiles = map[string]bool{
	"cpu":       true,
	"heap":      true,
	"block":     true,
	"goroutine": true,
	"mutex":     true,
}

// startProfiling enables the profiles named by --profile and returns a
// function that writes them to <name>.pprof in the working directory.
func startProfiling() (func() error, error) {
	for _, p := range *profiles {
		if !knownProfiles[p] {
			return nil, fmt.Errorf("unknown profile %q", p)
		}
	}
	var cpuFile *os.File
	if isProfileEnabled("cpu") {
		f, err := os.Create("cpu.pprof")
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		cpuFile = f
	}
	if isProfileEnabled("block") {
		runtime.SetBlockProfileRate(1)
	}
	if isProfileEnabled("mutex") {
		runtime.SetMutexProfileFraction(1)
	}

	return func() error {
		var err error
		if cpuFile != nil {
			pprof.StopCPUProfile()
			err = multierr.Append(err, cpuFile.Close())
		}
		for _, p := range *profiles {
			if p != "cpu" {
				err = multierr.Append(err, dumpProfile(p))
			}
		}
		return err
	}, nil
}

func isProfileEnabled(profile string) bool {
	for _, p := range *profiles {
		if p == profile {
			return true
		}
	}
	return false
}

func dumpProfile(p string) (err error) {
	prof := pprof.Lookup(p)
	if prof == nil {
		return nil
	}
	if p == "heap" {
		// report live objects as of the end of the run
		runtime.GC()
	}

	f, err := os.Create(p + ".pprof")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	// print symbolic names in profile to make them human-readable
	return prof.WriteTo(f, 1)
}
