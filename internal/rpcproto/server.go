package rpcproto

import (
	"fmt"
	"log"
	"net"
	"os"

	"github.com/distr1/buildtop/internal/shm"
	"github.com/distr1/buildtop/internal/shutdown"
	"github.com/distr1/buildtop/internal/trace"
)

// RingInfo is the fixed ring identity the daemon hands out to every
// client that asks; there is exactly one ring per daemon instance.
type RingInfo struct {
	Name     string
	TotalLen uint64
}

// SnapshotFactory creates a fresh, named snapshot object tagged for
// clientPid. The implementation must capture the state and the ring's
// write_seq under one lock so the two are consistent.
type SnapshotFactory func(name string, clientPid int32) (*shm.Snapshot, error)

// Server accepts connections on a Unix socket and serves the request/
// response protocol. One goroutine per connection; each connection may
// issue any number of requests serially and owns at most one live
// snapshot at a time (a re-request drops the previously-held one).
type Server struct {
	ring    RingInfo
	snapDir string // unused: snapshot names are built from the client pid
	newSnap SnapshotFactory
	coord   *shutdown.Coordinator
}

// NewServer returns a Server that answers RequestRing with ring and
// RequestSnapshot by invoking newSnap.
func NewServer(ring RingInfo, newSnap SnapshotFactory, coord *shutdown.Coordinator) *Server {
	return &Server{ring: ring, newSnap: newSnap, coord: coord}
}

// Serve accepts connections on ln until the coordinator triggers
// shutdown, at which point it closes ln and returns.
func (s *Server) Serve(ln net.Listener) error {
	go func() {
		<-s.coord.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.coord.Triggered() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var held *shm.Snapshot
	defer func() {
		if held != nil {
			if err := held.Close(); err != nil {
				log.Printf("rpcproto: closing snapshot %s: %v", held.Name(), err)
			}
		}
	}()

	for {
		req, err := ReadRequest(conn)
		if err != nil {
			return // client closed the connection, or a framing error: either way we're done
		}

		switch req.Kind {
		case RequestRing:
			if err := WriteResponse(conn, RingReady(s.ring.Name, s.ring.TotalLen)); err != nil {
				log.Printf("rpcproto: writing RingReady: %v", err)
				return
			}

		case RequestSnapshot:
			if held != nil {
				if err := held.Close(); err != nil {
					log.Printf("rpcproto: dropping prior snapshot %s: %v", held.Name(), err)
				}
				held = nil
			}
			name := fmt.Sprintf("buildtop-snapshot-p%d", req.ClientPid)
			ev := trace.Event("snapshot "+name, 0)
			snap, err := s.newSnap(name, req.ClientPid)
			ev.Done()
			if err != nil {
				if werr := WriteResponse(conn, ErrorResponse(err.Error())); werr != nil {
					log.Printf("rpcproto: writing Error response: %v", werr)
					return
				}
				continue
			}
			held = snap
			if err := WriteResponse(conn, SnapshotReady(snap.Name(), snap.TotalLen(), snap.SnapSeq())); err != nil {
				log.Printf("rpcproto: writing SnapshotReady: %v", err)
				return
			}

		default:
			if err := WriteResponse(conn, ErrorResponse(fmt.Sprintf("rpcproto: unknown request kind %d", req.Kind))); err != nil {
				return
			}
		}
	}
}

// ListenAndServe is a small convenience wrapper: it creates the Unix
// socket at path (removing any stale one left behind by a prior,
// unclean exit) and serves on it until shutdown.
func (s *Server) ListenAndServe(path string) error {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}
