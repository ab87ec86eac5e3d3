// Package ingest runs the daemon's log-ingestion accept loop: one
// connection per build session (requester), each line parsed by
// internal/logproto and folded into internal/state via the mapper's
// Sink interface. The accept loop polls for shutdown on a timer
// instead of blocking forever in Accept.
package ingest

import (
	"bufio"
	"log"
	"net"
	"time"

	"github.com/distr1/buildtop/internal/logproto"
	"github.com/distr1/buildtop/internal/model"
	"github.com/distr1/buildtop/internal/shutdown"
)

// acceptPoll is how often the accept loop wakes to check for shutdown
// between connections.
const acceptPoll = 100 * time.Millisecond

// maxLineBytes bounds one log line so a runaway producer can't make
// the scanner allocate without limit.
const maxLineBytes = 1 << 20

// Sink receives every mutation a connection's lines produce, and is
// asked to clean up a requester's state when its connection closes.
// internal/state.State implements both logproto.Sink and this
// interface's extra methods.
type Sink interface {
	logproto.Sink
	NextRequesterId() model.RequesterId
	CleanupRequester(rid model.RequesterId)
}

// deadlineListener is the subset of net.Listener the accept loop needs
// plus SetDeadline, which *net.UnixListener and *net.TCPListener both
// implement; log producers normally arrive over a Unix socket, but
// nothing here depends on that.
type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// Server accepts log-ingestion connections and feeds each into a fresh
// Mapper, one requester id per connection.
type Server struct {
	StorePrefix string
	Sink        Sink
	Resolve     logproto.Resolver // may be nil
	Coord       *shutdown.Coordinator
}

// Serve runs the accept loop until the coordinator triggers shutdown.
func (s *Server) Serve(ln deadlineListener) error {
	for {
		if s.Coord.Triggered() {
			return nil
		}
		ln.SetDeadline(time.Now().Add(acceptPoll))
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.Coord.Triggered() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	rid := s.Sink.NextRequesterId()
	defer s.Sink.CleanupRequester(rid)

	mapper := &logproto.Mapper{
		StorePrefix: s.StorePrefix,
		Rid:         rid,
		Sink:        s.Sink,
		Resolve:     s.Resolve,
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-s.Coord.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := logproto.Parse(line)
		if err != nil {
			log.Printf("ingest: requester %d: %v", rid, err)
			continue
		}
		mapper.Apply(rec)
	}
	if err := sc.Err(); err != nil {
		log.Printf("ingest: requester %d: read error: %v", rid, err)
	}
}
