/*
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config reads debug overrides from well-known XRT_*-style
// environment variables into a typed Debug struct, once at startup.
package config

import (
	"os"
	"strconv"
)

// Debug holds every debug override this runtime recognizes.
type Debug struct {
	TracingEnable     bool
	VerboseSessionLog bool
	DebugViews        bool
	DebugSpaces       bool
	IPDOverrideMM     float64 // 0 = unset, use device default
	ExtraWaitFrameMs  int64
	FOVOverrideRad    float64 // 0 = unset, use device default
}

// Load reads Debug from the environment, applying defaults for any key
// that is unset or fails to parse (a malformed override is silently
// ignored, never fatal).
func Load() Debug {
	return Debug{
		TracingEnable:     getBool("XRT_TRACE", false),
		VerboseSessionLog: getBool("XRT_VERBOSE_SESSION_LOG", false),
		DebugViews:        getBool("XRT_DEBUG_VIEWS", false),
		DebugSpaces:       getBool("XRT_DEBUG_SPACES", false),
		IPDOverrideMM:     getFloat("XRT_IPD_MM", 0),
		ExtraWaitFrameMs:  getInt("XRT_EXTRA_WAIT_FRAME_MS", 0),
		FOVOverrideRad:    getFloat("XRT_FOV_RAD", 0),
	}
}

func getBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getInt(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
