package wire

import "google.golang.org/grpc/codes"

// EncodeReplyStatus writes the status word every reply payload leads with,
// ahead of the opcode-specific reply body.
func EncodeReplyStatus(w *Writer, code codes.Code) {
	w.PutUint32(uint32(code))
}

// DecodeReplyStatus reads the leading status word off a reply payload.
func DecodeReplyStatus(r *Reader) (codes.Code, error) {
	v, err := r.Uint32()
	if err != nil {
		return codes.Unknown, err
	}
	return codes.Code(v), nil
}

// EncodeEventTimestamp writes the leading u64 timestamp every event payload
// carries.
func EncodeEventTimestamp(w *Writer, timestampNs uint64) {
	w.PutUint64(timestampNs)
}

// DecodeEventTimestamp reads the leading timestamp off an event payload.
func DecodeEventTimestamp(r *Reader) (uint64, error) {
	return r.Uint64()
}
