// Package rpcproto implements the framed request/response protocol a
// probe client speaks over a Unix stream socket to ask the daemon for
// a ring or a snapshot handle. Requests and responses are flat tagged
// unions (cf. internal/logproto.Record, internal/model.Update) so both
// ends round-trip through CBOR without custom marshaling.
package rpcproto

import (
	"encoding/binary"
	"io"

	cbor "github.com/fxamacker/cbor/v2"
	"golang.org/x/xerrors"
)

// frameLenSize is the width of the native-endian length prefix. Every
// platform this daemon targets (Linux on x86-64/arm64) is
// little-endian, so that is what's used here and throughout
// internal/shm.
const frameLenSize = 4

// maxFrameLen bounds a single frame's payload so a corrupt or hostile
// peer can't make ReadFrame allocate without limit.
const maxFrameLen = 16 << 20

// RequestKind selects the meaningful fields of a Request.
type RequestKind int

const (
	RequestRing RequestKind = iota
	RequestSnapshot
)

// Request is one client request.
type Request struct {
	Kind RequestKind `cbor:"kind"`

	// RequestSnapshot
	ClientPid int32 `cbor:"client_pid,omitempty"`
}

// ResponseKind selects the meaningful fields of a Response.
type ResponseKind int

const (
	ResponseRingReady ResponseKind = iota
	ResponseSnapshotReady
	ResponseError
)

// Response is the daemon's reply to one Request.
type Response struct {
	Kind ResponseKind `cbor:"kind"`

	// RingReady
	RingName string `cbor:"ring_name,omitempty"`
	TotalLen uint64 `cbor:"total_len,omitempty"`

	// SnapshotReady
	SnapshotName string `cbor:"snapshot_name,omitempty"`
	SnapSeq      uint64 `cbor:"snap_seq,omitempty"`

	// Error
	Message string `cbor:"message,omitempty"`
}

func RingReady(name string, totalLen uint64) Response {
	return Response{Kind: ResponseRingReady, RingName: name, TotalLen: totalLen}
}

func SnapshotReady(name string, totalLen, snapSeq uint64) Response {
	return Response{Kind: ResponseSnapshotReady, SnapshotName: name, TotalLen: totalLen, SnapSeq: snapSeq}
}

func ErrorResponse(msg string) Response {
	return Response{Kind: ResponseError, Message: msg}
}

// WriteMessage writes v as one length-prefixed CBOR frame.
func WriteMessage(w io.Writer, v interface{}) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return xerrors.Errorf("rpcproto: encoding message: %w", err)
	}
	if len(payload) > maxFrameLen {
		return xerrors.Errorf("rpcproto: message of %d bytes exceeds max frame length %d", len(payload), maxFrameLen)
	}
	var lenBuf [frameLenSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return xerrors.Errorf("rpcproto: writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return xerrors.Errorf("rpcproto: writing frame payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed CBOR frame into v.
func ReadMessage(r io.Reader, v interface{}) error {
	var lenBuf [frameLenSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err // let io.EOF propagate to callers unwrapped
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return xerrors.Errorf("rpcproto: frame of %d bytes exceeds max frame length %d", n, maxFrameLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return xerrors.Errorf("rpcproto: reading frame payload: %w", err)
	}
	if err := cbor.Unmarshal(payload, v); err != nil {
		return xerrors.Errorf("rpcproto: decoding message: %w", err)
	}
	return nil
}

// WriteRequest and ReadRequest/ReadResponse exist so callers don't
// juggle interface{} at call sites.
func WriteRequest(w io.Writer, req Request) error { return WriteMessage(w, req) }
func WriteResponse(w io.Writer, resp Response) error { return WriteMessage(w, resp) }

func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	err := ReadMessage(r, &req)
	return req, err
}

func ReadResponse(r io.Reader) (Response, error) {
	var resp Response
	err := ReadMessage(r, &resp)
	return resp, err
}
