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

// Package shm provides the process-global shared-memory region: the
// read-mostly device table, tracking-origin array, input/output descriptor
// arrays, and a per-client status-slot array.
//
// The service process creates and writes the region; client processes map it
// read-only by convention and observe it through fixed-width atomic fields,
// never through a lock held across the process boundary. All record types
// use fixed 32/64-bit fields at 64-byte-aligned section offsets, so a field
// is never torn across a cache line or a word boundary.
package shm
