package shm

import (
	"encoding/binary"
	"log"
	"sync/atomic"
	"unsafe"

	cbor "github.com/fxamacker/cbor/v2"
	"golang.org/x/xerrors"

	"github.com/distr1/buildtop/internal/model"
	"github.com/distr1/buildtop/internal/notify"
)

// Ring buffer wire layout:
//
//	offset 0:  ShmHeader{magic, version, write_seq, next_entry_offset,
//	           ring_len, start_seq}
//	offset hdrSize: ring[ring_len] (records, tail-wrapped)
//
// Each record is a ShmRecordHeader{payload_kind, payload_len, seq}
// followed by CBOR(Update), padded to a multiple of 8 bytes.
//
// startSeq tracks the oldest sequence still fully present in the ring;
// a reader more than one full wrap behind must be told to catch up via
// snapshot rather than handed stale bytes that no longer align to any
// record boundary.
const (
	ringMagic   uint64 = 0x42544f5052494e47 // "BTOPRING"
	ringVersion uint64 = 1

	hdrOffMagic       = 0
	hdrOffVersion     = 8
	hdrOffWriteSeq    = 16
	hdrOffNextEntry   = 24
	hdrOffRingLen     = 28
	hdrOffStartSeq    = 32
	hdrSize           = 40
	recordHdrKindOff  = 0
	recordHdrLenOff   = 4
	recordHdrSeqOff   = 8
	recordHdrSize     = 16
	ringAlign         = 8
	kindPadding       = 0
)

func alignUp8(n uint32) uint32 { return (n + ringAlign - 1) &^ (ringAlign - 1) }

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

func loadU32(b []byte, off int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&b[off])))
}
func storeU32(b []byte, off int, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&b[off])), v)
}
func loadU64(b []byte, off int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&b[off])))
}
func storeU64(b []byte, off int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&b[off])), v)
}

// kindOf maps a model.UpdateKind to its wire-level numeric tag.
// Padding (0) is reserved so it never collides with a real kind and a
// padding record can never decode as a user update.
func kindOf(k model.UpdateKind) uint32 {
	switch k {
	case model.UpdateJobNew:
		return 1
	case model.UpdateJobUpdate:
		return 2
	case model.UpdateJobFinish:
		return 3
	case model.UpdateDepGraphUpdate:
		return 4
	case model.UpdateHeartbeat:
		return 5
	default:
		return kindPadding
	}
}

// RingWriter is the single writer of a ring buffer. Concurrent calls
// to WriteUpdate must be externally serialized — in practice this
// holds automatically because internal/state only ever publishes while
// holding its own write lock.
type RingWriter struct {
	m        *Mapping
	ringLen  uint32
	notifier notify.Notifier

	nextOff uint32
	seq     uint64
}

// CreateRing creates a new named ring of at least minRingLen bytes
// (rounded up to a power of two) and returns a writer for it.
func CreateRing(name string, minRingLen uint32, notifier notify.Notifier) (*RingWriter, error) {
	ringLen := nextPow2(minRingLen)
	m, err := Create(name, int(hdrSize+ringLen))
	if err != nil {
		return nil, err
	}
	b := m.Bytes()
	storeU64(b, hdrOffMagic, ringMagic)
	storeU64(b, hdrOffVersion, ringVersion)
	storeU32(b, hdrOffRingLen, ringLen)
	storeU64(b, hdrOffStartSeq, 1)
	storeU32(b, hdrOffNextEntry, 0)
	storeU64(b, hdrOffWriteSeq, 0)
	return &RingWriter{m: m, ringLen: ringLen, notifier: notifier}, nil
}

func (w *RingWriter) Name() string { return w.m.Name() }
func (w *RingWriter) TotalLen() uint64 { return uint64(hdrSize) + uint64(w.ringLen) }
func (w *RingWriter) RingLen() uint32 { return w.ringLen }

// WriteSeq returns the most recently published sequence number.
func (w *RingWriter) WriteSeq() uint64 {
	return loadU64(w.m.Bytes(), hdrOffWriteSeq)
}

// wakeAddr is the u32 readers futex-wait on: the low 32 bits of
// write_seq. On little-endian platforms (the only ones this daemon
// targets) that is the word at write_seq's own offset.
func (w *RingWriter) wakeAddr() *uint32 {
	return (*uint32)(unsafe.Pointer(&w.m.Bytes()[hdrOffWriteSeq]))
}

func (w *RingWriter) ringData() []byte {
	return w.m.Bytes()[hdrSize:]
}

// peekMaxSeqIn scans the ring bytes in [off, off+length) for the
// highest sequence number among any (non-padding) record headers
// found there, used to advance start_seq past whatever this write is
// about to overwrite. Scratch space (never written) decodes as all
// zeros and stops the scan — there is nothing there to evict.
func (w *RingWriter) peekMaxSeqIn(off, length uint32) (uint64, bool) {
	data := w.ringData()
	var maxSeq uint64
	found := false
	var scanned uint32
	cur := off
	for scanned < length {
		if cur+recordHdrSize > w.ringLen {
			break
		}
		kind := binary.LittleEndian.Uint32(data[cur+recordHdrKindOff:])
		plen := binary.LittleEndian.Uint32(data[cur+recordHdrLenOff:])
		seq := binary.LittleEndian.Uint64(data[cur+recordHdrSeqOff:])
		if kind == 0 && plen == 0 && seq == 0 {
			break
		}
		size := alignUp8(recordHdrSize + plen)
		if size == 0 {
			break
		}
		if kind != kindPadding && (!found || seq > maxSeq) {
			maxSeq, found = seq, true
		}
		cur += size
		scanned += size
	}
	return maxSeq, found
}

func (w *RingWriter) bumpStartSeq(candidate uint64) {
	cur := loadU64(w.m.Bytes(), hdrOffStartSeq)
	if candidate > cur {
		storeU64(w.m.Bytes(), hdrOffStartSeq, candidate)
	}
}

func (w *RingWriter) putRecordHeader(off uint32, kind, plen uint32, seq uint64) {
	data := w.ringData()
	binary.LittleEndian.PutUint32(data[off+recordHdrKindOff:], kind)
	binary.LittleEndian.PutUint32(data[off+recordHdrLenOff:], plen)
	// seq is written last via an atomic store: it is the field readers
	// gate on, so payload and the rest of the header must be in place
	// first — seq-last plays the same publishing role for one record
	// that write_seq plays for the whole ring.
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&data[off+recordHdrSeqOff])), seq)
}

// WriteUpdate serializes u and appends it to the ring, returning the
// sequence number assigned to the record.
func (w *RingWriter) WriteUpdate(u model.Update) (uint64, error) {
	payload, err := cbor.Marshal(u)
	if err != nil {
		return 0, xerrors.Errorf("shm: encoding update: %w", err)
	}
	return w.writeRaw(kindOf(u.Kind), payload)
}

func (w *RingWriter) writeRaw(kind uint32, payload []byte) (uint64, error) {
	recSize := alignUp8(recordHdrSize + uint32(len(payload)))
	if recSize > w.ringLen {
		return 0, xerrors.Errorf("shm: record of %d bytes does not fit in a %d-byte ring", recSize, w.ringLen)
	}

	seq := w.seq + 1
	off := w.nextOff
	remain := w.ringLen - off

	if recSize > remain {
		if remain >= recordHdrSize {
			if maxSeq, found := w.peekMaxSeqIn(off, remain); found {
				w.bumpStartSeq(maxSeq + 1)
			}
			w.putRecordHeader(off, kindPadding, 0, seq)
		}
		off = 0
	}

	if maxSeq, found := w.peekMaxSeqIn(off, recSize); found {
		w.bumpStartSeq(maxSeq + 1)
	}

	data := w.ringData()
	copy(data[off+recordHdrSize:], payload)
	w.putRecordHeader(off, kind, uint32(len(payload)), seq)

	w.nextOff = (off + recSize) % w.ringLen
	w.seq = seq

	storeU32(w.m.Bytes(), hdrOffNextEntry, w.nextOff)
	storeU64(w.m.Bytes(), hdrOffWriteSeq, seq) // the publishing store

	w.notifier.Wake(w.wakeAddr())

	return seq, nil
}

// Publish implements internal/state.Publisher, logging (never
// propagating) encoding failures: at worst a reader sees a gap in the
// sequence and recovers via snapshot.
func (w *RingWriter) Publish(u model.Update) {
	if _, err := w.WriteUpdate(u); err != nil {
		log.Printf("shm: ring publish: %v", err)
	}
}

func (w *RingWriter) Close() error {
	if w.notifier != nil {
		w.notifier.Close()
	}
	return w.m.Close()
}

func (w *RingWriter) Unlink() error { return w.m.Unlink() }

// ReadResult is the outcome of one RingReader.TryRead call.
type ReadResult int

const (
	ReadNone ReadResult = iota
	ReadUpdate
	ReadLost
	ReadNeedCatchup
)

// RingReader tracks one reader's position in a ring it has mapped
// read-only. Not safe for concurrent use by multiple goroutines.
type RingReader struct {
	m       *Mapping
	ringLen uint32
	waiter  notify.Waiter

	off     uint32
	nextSeq uint64
}

// AttachRing maps an existing ring by name/length and positions the
// reader at the ring's current end, so it only receives updates
// published after attach.
func AttachRing(name string, totalLen uint64, waiter notify.Waiter) (*RingReader, error) {
	m, err := Open(name, int(totalLen))
	if err != nil {
		return nil, err
	}
	b := m.Bytes()
	if magic := loadU64(b, hdrOffMagic); magic != ringMagic {
		m.Close()
		return nil, xerrors.Errorf("shm: ring %s: bad magic %x", name, magic)
	}
	if version := loadU64(b, hdrOffVersion); version != ringVersion {
		m.Close()
		return nil, xerrors.Errorf("shm: ring %s: unsupported version %d", name, version)
	}
	ringLen := loadU32(b, hdrOffRingLen)
	r := &RingReader{m: m, ringLen: ringLen, waiter: waiter}
	writeSeq := loadU64(b, hdrOffWriteSeq)
	nextOff := loadU32(b, hdrOffNextEntry)
	r.nextSeq = writeSeq + 1
	r.off = nextOff
	return r, nil
}

// SyncToSnapshot repositions the reader after a snapshot taken at
// snapSeq: the next expected sequence becomes snapSeq+1 and the read
// offset becomes the ring's current next-entry offset. Delivery resumes
// without gaps only when nothing was published between the snapshot and
// this call; updates published in between lie before that offset and
// are not searched for, so TryRead does not return them (it typically
// reports ReadNeedCatchup instead).
func (r *RingReader) SyncToSnapshot(snapSeq uint64) {
	b := r.m.Bytes()
	r.nextSeq = snapSeq + 1
	r.off = loadU32(b, hdrOffNextEntry)
}

func (r *RingReader) ringData() []byte {
	return r.m.Bytes()[hdrSize:]
}

func (r *RingReader) wakeAddr() *uint32 {
	return (*uint32)(unsafe.Pointer(&r.m.Bytes()[hdrOffWriteSeq]))
}

// TryRead attempts to consume the next record. It never blocks;
// callers poll it in a loop and fall back to Wait (via WaitForUpdate)
// between calls.
func (r *RingReader) TryRead() (ReadResult, model.Update, uint64, uint64, error) {
	b := r.m.Bytes()
	writeSeq := loadU64(b, hdrOffWriteSeq) // acquire: gates every read below
	startSeq := loadU64(b, hdrOffStartSeq)

	if r.nextSeq > writeSeq {
		return ReadNone, model.Update{}, 0, 0, nil
	}
	if r.nextSeq < startSeq {
		return ReadNeedCatchup, model.Update{}, 0, 0, nil
	}

	for {
		data := r.ringData()
		if r.off+recordHdrSize > r.ringLen {
			return ReadNeedCatchup, model.Update{}, 0, 0, nil
		}
		kind := binary.LittleEndian.Uint32(data[r.off+recordHdrKindOff:])
		if kind == kindPadding {
			r.off = 0
			continue
		}
		plen := binary.LittleEndian.Uint32(data[r.off+recordHdrLenOff:])
		seq := atomic.LoadUint64((*uint64)(unsafe.Pointer(&data[r.off+recordHdrSeqOff])))

		switch {
		case seq > r.nextSeq:
			from, to := r.nextSeq, seq
			r.nextSeq = seq
			return ReadLost, model.Update{}, from, to, nil
		case seq < r.nextSeq:
			return ReadNeedCatchup, model.Update{}, 0, 0, nil
		}

		if r.off+recordHdrSize+plen > uint32(len(data)) {
			return ReadNeedCatchup, model.Update{}, 0, 0, nil
		}
		payload := data[r.off+recordHdrSize : r.off+recordHdrSize+plen]
		var u model.Update
		if err := cbor.Unmarshal(payload, &u); err != nil {
			return ReadNeedCatchup, model.Update{}, 0, 0, xerrors.Errorf("shm: decoding update at seq %d: %w", seq, err)
		}

		size := alignUp8(recordHdrSize + plen)
		r.off = (r.off + size) % r.ringLen
		r.nextSeq = seq + 1
		return ReadUpdate, u, 0, 0, nil
	}
}

// WaitForUpdate blocks (via the platform waiter, or a bounded poll)
// until the ring's write_seq changes from what the reader has already
// observed, or until the backend's own timeout elapses — callers must
// re-call TryRead afterwards regardless of the reason Wait returned.
func (r *RingReader) WaitForUpdate() {
	b := r.m.Bytes()
	expected := uint32(loadU64(b, hdrOffWriteSeq))
	r.waiter.Wait(r.wakeAddr(), expected)
}

func (r *RingReader) Close() error {
	if r.waiter != nil {
		r.waiter.Close()
	}
	return r.m.Close()
}
