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

package shm

import (
	"context"
	"time"
)

// PublishTick is called by the service, once per render tick, after it has
// finished writing a new generation of input records. It stamps the epoch
// timestamp and bumps the futex word, waking any client blocked in
// WaitForEpoch.
func (s *Segment) PublishTick(nowNs uint64) {
	h := s.header()
	h.setEpochNs(nowNs)
	h.incrementEpochSequence()
	futexWake(&h.epochSeq, 1<<30) // wake all waiters
}

// EpochSeq returns the current epoch sequence number, suitable as the
// "lastSeen" argument to a subsequent WaitForEpoch call.
func (s *Segment) EpochSeq() uint32 {
	return s.header().epochSequence()
}

// WaitForEpoch blocks until the segment's epoch sequence advances past
// lastSeen, ctx is done, or an error occurs. It prefers a futex wait; on
// platforms where that's unavailable, or when the wait returns before the
// sequence has advanced (a spurious wakeup or an early timeout), it goes on
// by polling. With no ctx deadline the futex wait itself does not observe a
// cancellation; it returns at the next PublishTick.
func (s *Segment) WaitForEpoch(ctx context.Context, lastSeen uint32) (uint32, error) {
	h := s.header()
	if cur := h.epochSequence(); cur != lastSeen {
		return cur, nil
	}

	deadlineNs := int64(0)
	if dl, ok := ctx.Deadline(); ok {
		deadlineNs = int64(time.Until(dl))
		if deadlineNs <= 0 {
			return h.epochSequence(), ctx.Err()
		}
	}

	err := futexWaitTimeout(&h.epochSeq, lastSeen, deadlineNs)
	switch err {
	case nil, ErrFutexTimeout:
		select {
		case <-ctx.Done():
			return h.epochSequence(), ctx.Err()
		default:
			return s.waitForEpochPoll(ctx, lastSeen)
		}
	case ErrFutexUnsupported:
		return s.waitForEpochPoll(ctx, lastSeen)
	default:
		return h.epochSequence(), err
	}
}

// waitForEpochPoll is the portable fallback for platforms without a futex
// syscall: a 1ms ticker plus an atomic load.
func (s *Segment) waitForEpochPoll(ctx context.Context, lastSeen uint32) (uint32, error) {
	h := s.header()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if cur := h.epochSequence(); cur != lastSeen {
			return cur, nil
		}
		select {
		case <-ctx.Done():
			return h.epochSequence(), ctx.Err()
		case <-ticker.C:
		}
	}
}
