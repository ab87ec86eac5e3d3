package ingest

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/distr1/buildtop/internal/model"
	"github.com/distr1/buildtop/internal/shutdown"
)

// connSink records every mutation one connection's lines produce, so a
// test can assert on the stream as a whole once the connection closes.
type connSink struct {
	mu        sync.Mutex
	nextRid   model.RequesterId
	statuses  map[model.JobId]model.JobStatus
	stopped   []model.JobId
	idle      []model.Drv
	cleanedUp []model.RequesterId
	done      chan struct{}
}

func newConnSink() *connSink {
	return &connSink{
		statuses: map[model.JobId]model.JobStatus{},
		done:     make(chan struct{}),
	}
}

func (s *connSink) ReplaceJob(jid model.JobId, rid model.RequesterId, drv model.Drv, status model.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[jid] = status
}

func (s *connSink) MutateJob(jid model.JobId, fn func(model.JobStatus) model.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[jid]; ok {
		s.statuses[jid] = fn(st)
	}
}

func (s *connSink) StopJob(jid model.JobId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, jid)
}

func (s *connSink) InsertIdleDrv(d model.Drv) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = append(s.idle, d)
}

func (s *connSink) InsertIdleDrvForRequester(d model.Drv, rid model.RequesterId) {
	s.InsertIdleDrv(d)
}

func (s *connSink) CreateTargetForReference(reference string, rid model.RequesterId, resolve func() (model.Drv, error)) {
}

func (s *connSink) NextRequesterId() model.RequesterId {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRid++
	return s.nextRid
}

func (s *connSink) CleanupRequester(rid model.RequesterId) {
	s.mu.Lock()
	s.cleanedUp = append(s.cleanedUp, rid)
	s.mu.Unlock()
	close(s.done)
}

func TestHandleConnParsesLinesAndCleansUp(t *testing.T) {
	sink := newConnSink()
	srv := &Server{
		StorePrefix: "/build/distri/pkg",
		Sink:        sink,
		Coord:       shutdown.New(),
	}

	client, server := net.Pipe()
	go srv.handleConn(server)

	lines := []string{
		`{"action":"msg","level":3,"msg":"this derivation will be built: /build/distri/pkg/abcdefabcdefabcdefabcdefabcdefab-app.drv"}`,
		`{"action":"start","id":7,"type":105,"fields":["/build/distri/pkg/abcdefabcdefabcdefabcdefabcdefab-app.drv"]}`,
		`this line is not JSON and must be dropped, not kill the connection`,
		`{"action":"result","id":7,"type":104,"fields":["buildPhase"]}`,
		`{"action":"stop","id":7}`,
	}
	for _, l := range lines {
		if _, err := client.Write([]byte(l + "\n")); err != nil {
			t.Fatalf("writing line: %v", err)
		}
	}
	client.Close()

	select {
	case <-sink.done:
	case <-time.After(5 * time.Second):
		t.Fatal("handleConn never called CleanupRequester after the connection closed")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()

	wantIdle := []model.Drv{{Hash: "abcdefabcdefabcdefabcdefabcdefab", Name: "app"}}
	if diff := cmp.Diff(wantIdle, sink.idle); diff != "" {
		t.Errorf("idle drvs: diff (-want +got):\n%s", diff)
	}
	if got := sink.statuses[7]; got.Kind != model.StatusBuildPhase || got.Phase != "buildPhase" {
		t.Errorf("job 7 status = %+v, want BuildPhase(buildPhase)", got)
	}
	if diff := cmp.Diff([]model.JobId{7}, sink.stopped); diff != "" {
		t.Errorf("stopped jobs: diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]model.RequesterId{1}, sink.cleanedUp); diff != "" {
		t.Errorf("cleaned-up requesters: diff (-want +got):\n%s", diff)
	}
}

func TestServeStopsOnShutdown(t *testing.T) {
	dir := t.TempDir()
	addr, err := net.ResolveUnixAddr("unix", dir+"/ingest.sock")
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	coord := shutdown.New()
	srv := &Server{StorePrefix: "/build/distri/pkg", Sink: newConnSink(), Coord: coord}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	coord.Trigger()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve returned %v after shutdown, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return within the accept poll interval after shutdown")
	}
}
