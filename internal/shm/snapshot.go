package shm

import (
	"io"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"

	"github.com/distr1/buildtop/internal/model"
)

// Snapshot wire layout:
//
//	offset 0:          SnapshotHeader{magic, version, header_len,
//	                   payload_len, snap_seq_uid}
//	offset header_len: CBOR(JobsStateWire)
const (
	snapMagic   uint64 = 0x42544f50534e4150 // "BTOPSNAP"
	snapVersion uint64 = 1
	snapHdrSize uint64 = 40

	snapHdrOffMagic      = 0
	snapHdrOffVersion    = 8
	snapHdrOffHeaderLen  = 16
	snapHdrOffPayloadLen = 24
	snapHdrOffSnapSeq    = 32
)

// drvWire is Drv's wire shape: the explicit {hash,name} pair, kept as
// its own struct so the shared-memory encoding never depends on how
// model.Drv happens to lay out its fields.
type drvWire struct {
	Hash string `cbor:"hash"`
	Name string `cbor:"name"`
}

func (d drvWire) toDrv() model.Drv { return model.Drv{Hash: d.Hash, Name: d.Name} }
func drvToWire(d model.Drv) drvWire { return drvWire{Hash: d.Hash, Name: d.Name} }

// nodeWire mirrors model.Node's shape for wire encoding: CBOR can't
// serialize a map keyed by a struct directly into the untagged-Drv
// form callers expect, so nodes travel as an explicit (drv, node)
// pair list instead of a map.
type nodeWire struct {
	Drv             drvWire   `cbor:"drv"`
	Deps            []drvWire `cbor:"deps"`
	RequiredOutputs []string  `cbor:"required_outputs"`
}

// JobsStateWire is the full point-in-time image copied out of
// internal/state.State for transmission through a snapshot object.
type JobsStateWire struct {
	Jobs  []model.BuildJob `cbor:"jobs"`
	Nodes []nodeWire       `cbor:"nodes"`
	Roots []drvWire        `cbor:"roots"`
}

// stateSnapshot is the minimal read-only view WriteSnapshot needs from
// internal/state.State. internal/shm depends on internal/model only;
// taking this narrow interface instead of *state.State avoids a
// shm->state import (state already depends on model, same inversion
// internal/logproto uses for its Sink/Resolver interfaces).
type stateSnapshot interface {
	Jobs() []model.BuildJob
	Nodes() map[model.Drv]*model.Node
	Roots() []model.Drv
}

func toWire(s stateSnapshot) JobsStateWire {
	nodes := s.Nodes()
	w := JobsStateWire{
		Jobs:  s.Jobs(),
		Nodes: make([]nodeWire, 0, len(nodes)),
		Roots: make([]drvWire, 0),
	}
	for drv, n := range nodes {
		deps := make([]drvWire, 0, len(n.Deps))
		for d := range n.Deps {
			deps = append(deps, drvToWire(d))
		}
		outputs := make([]string, 0, len(n.RequiredOutputs))
		for o := range n.RequiredOutputs {
			outputs = append(outputs, o)
		}
		w.Nodes = append(w.Nodes, nodeWire{Drv: drvToWire(drv), Deps: deps, RequiredOutputs: outputs})
	}
	for _, d := range s.Roots() {
		w.Roots = append(w.Roots, drvToWire(d))
	}
	return w
}

// fromWire reconstructs the node-dependency map (the one piece
// JobsStateWire doesn't carry directly, since required output *paths*
// are not part of the wire image — a probe client only needs the
// shape of the graph and running jobs, not build-time output
// resolution) from the wire form.
func fromWire(w JobsStateWire) (jobs []model.BuildJob, nodes map[model.Drv]*model.Node, roots []model.Drv) {
	jobs = w.Jobs
	nodes = make(map[model.Drv]*model.Node, len(w.Nodes))
	for _, nw := range w.Nodes {
		deps := make(map[model.Drv]bool, len(nw.Deps))
		for _, d := range nw.Deps {
			deps[d.toDrv()] = true
		}
		outputs := make(map[string]bool, len(nw.RequiredOutputs))
		for _, o := range nw.RequiredOutputs {
			outputs[o] = true
		}
		nodes[nw.Drv.toDrv()] = &model.Node{Root: nw.Drv.toDrv(), Deps: deps, RequiredOutputs: outputs}
	}
	roots = make([]model.Drv, 0, len(w.Roots))
	for _, d := range w.Roots {
		roots = append(roots, d.toDrv())
	}
	return jobs, nodes, roots
}

// Snapshot is a write-once, daemon-owned shared-memory object holding
// one point-in-time JobsStateWire image, named
// `<prefix>-snapshot-p<pid>`. It is kept alive for the life of one RPC
// session
// (internal/rpcproto) and unlinked when that session ends.
type Snapshot struct {
	m       *Mapping
	snapSeq uint64
}

// WriteSnapshot CBOR-encodes s's current state and writes it into a
// freshly-created shared-memory object named name, tagging the image
// with snapSeq (the ring's write_seq at the instant of the call, so a
// ring reader that later loads this snapshot knows exactly where to
// resume).
func WriteSnapshot(name string, s stateSnapshot, snapSeq uint64) (*Snapshot, error) {
	wire := toWire(s)

	var ws writerseeker.WriterSeeker
	if _, err := ws.Write(make([]byte, snapHdrSize)); err != nil {
		return nil, xerrors.Errorf("shm: reserving snapshot header: %w", err)
	}
	enc := cbor.NewEncoder(&ws)
	if err := enc.Encode(wire); err != nil {
		return nil, xerrors.Errorf("shm: encoding snapshot payload: %w", err)
	}
	totalLen, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, xerrors.Errorf("shm: measuring snapshot payload: %w", err)
	}
	payloadLen := uint64(totalLen) - snapHdrSize

	buf, err := io.ReadAll(ws.Reader())
	if err != nil {
		return nil, xerrors.Errorf("shm: reading back snapshot buffer: %w", err)
	}

	storeU64(buf, snapHdrOffMagic, snapMagic)
	storeU64(buf, snapHdrOffVersion, snapVersion)
	storeU64(buf, snapHdrOffHeaderLen, snapHdrSize)
	storeU64(buf, snapHdrOffPayloadLen, payloadLen)
	storeU64(buf, snapHdrOffSnapSeq, snapSeq)

	m, err := Create(name, len(buf))
	if err != nil {
		return nil, err
	}
	copy(m.Bytes(), buf)

	return &Snapshot{m: m, snapSeq: snapSeq}, nil
}

func (sn *Snapshot) Name() string { return sn.m.Name() }
func (sn *Snapshot) TotalLen() uint64 { return uint64(sn.m.Len()) }
func (sn *Snapshot) SnapSeq() uint64 { return sn.snapSeq }

// Close unmaps and unlinks the snapshot object. The name is removed
// from /dev/shm immediately; any client that already opened it by name
// keeps its own mapping alive regardless.
func (sn *Snapshot) Close() error {
	err := sn.m.Unlink()
	if cerr := sn.m.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadSnapshot opens an existing snapshot object by name, validates
// its header, and decodes the payload.
func ReadSnapshot(name string, totalLen uint64) (jobs []model.BuildJob, nodes map[model.Drv]*model.Node, roots []model.Drv, snapSeq uint64, err error) {
	m, err := Open(name, int(totalLen))
	if err != nil {
		return nil, nil, nil, 0, err
	}
	defer m.Close()

	b := m.Bytes()
	if len(b) < int(snapHdrSize) {
		return nil, nil, nil, 0, xerrors.Errorf("shm: snapshot %s too small for a header", name)
	}
	if magic := loadU64(b, snapHdrOffMagic); magic != snapMagic {
		return nil, nil, nil, 0, xerrors.Errorf("shm: snapshot %s: bad magic %x", name, magic)
	}
	if version := loadU64(b, snapHdrOffVersion); version != snapVersion {
		return nil, nil, nil, 0, xerrors.Errorf("shm: snapshot %s: unsupported version %d", name, version)
	}
	headerLen := loadU64(b, snapHdrOffHeaderLen)
	payloadLen := loadU64(b, snapHdrOffPayloadLen)
	snapSeq = loadU64(b, snapHdrOffSnapSeq)

	if headerLen+payloadLen > uint64(len(b)) {
		return nil, nil, nil, 0, xerrors.Errorf("shm: snapshot %s: header/payload length exceeds mapping", name)
	}
	payload := b[headerLen : headerLen+payloadLen]

	var wire JobsStateWire
	if err := cbor.Unmarshal(payload, &wire); err != nil {
		return nil, nil, nil, 0, xerrors.Errorf("shm: decoding snapshot %s: %w", name, err)
	}
	jobs, nodes, roots = fromWire(wire)
	return jobs, nodes, roots, snapSeq, nil
}
