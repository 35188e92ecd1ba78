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

// Package wire is the control-socket datagram codec: a fixed-size
// little-endian header followed by an opcode-specific payload. Request,
// reply, and event datagrams all share the header shape; ancillary
// SCM_RIGHTS handles ride alongside a datagram, not inside it.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed datagram header: length, sequence, opcode, flags.
const HeaderSize = 16

// replyBit is OR'd into a request's Opcode to form its reply's Opcode.
const replyBit = uint32(0x80000000)

// eventOpcodeMask identifies event datagrams, whose Opcode always has the
// top byte set.
const eventOpcodeMask = uint32(0xFF000000)

// FlagHasHandles marks that ancillary OS handles ride alongside this
// datagram's payload (SCM_RIGHTS on POSIX).
const FlagHasHandles = uint32(1 << 0)

// Header is the 16-byte datagram header shared by every request, reply, and
// event.
type Header struct {
	Length   uint32 // datagram bytes, header included
	Sequence uint32
	Opcode   uint32
	Flags    uint32
}

// ReplyOpcode returns the opcode a reply to requestOpcode carries.
func ReplyOpcode(requestOpcode uint32) uint32 { return requestOpcode | replyBit }

// IsReply reports whether opcode belongs to a reply datagram. Event opcodes
// also carry the reply bit in their top byte and are not replies.
func IsReply(opcode uint32) bool { return opcode&replyBit != 0 && !IsEvent(opcode) }

// IsEvent reports whether opcode belongs to an event datagram.
func IsEvent(opcode uint32) bool { return opcode&eventOpcodeMask == eventOpcodeMask }

// RequestOpcode strips the reply bit, recovering the original request
// opcode from a reply's.
func RequestOpcode(replyOpcode uint32) uint32 { return replyOpcode &^ replyBit }

// EncodeHeader writes h into the first HeaderSize bytes of dst.
func EncodeHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Length)
	binary.LittleEndian.PutUint32(dst[4:8], h.Sequence)
	binary.LittleEndian.PutUint32(dst[8:12], h.Opcode)
	binary.LittleEndian.PutUint32(dst[12:16], h.Flags)
}

// DecodeHeader parses a Header from the front of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("wire: datagram header too short: %d bytes", len(b))
	}
	return Header{
		Length:   binary.LittleEndian.Uint32(b[0:4]),
		Sequence: binary.LittleEndian.Uint32(b[4:8]),
		Opcode:   binary.LittleEndian.Uint32(b[8:12]),
		Flags:    binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}
