// Command buildtopd is the daemon: it ingests activity-protocol log
// streams from concurrent build sessions, reconstructs the job/target/
// DAG model (internal/state), publishes every mutation to a shared-
// memory ring (internal/shm) and serves point-in-time snapshots and
// ring handshakes over a Unix control socket (internal/rpcproto).
//
// The process exits 0 on a clean, signal-driven shutdown and 1 on any
// fatal setup failure (socket bind, shm create).
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/distr1/buildtop"
	"github.com/distr1/buildtop/internal/addrfd"
	"github.com/distr1/buildtop/internal/aterm"
	"github.com/distr1/buildtop/internal/config"
	"github.com/distr1/buildtop/internal/ingest"
	"github.com/distr1/buildtop/internal/notify"
	"github.com/distr1/buildtop/internal/resolve"
	"github.com/distr1/buildtop/internal/rpcproto"
	"github.com/distr1/buildtop/internal/shm"
	"github.com/distr1/buildtop/internal/shutdown"
	"github.com/distr1/buildtop/internal/state"
	internaltrace "github.com/distr1/buildtop/internal/trace"
)

var (
	storePrefix = flag.String("store_prefix", "/build/distri/pkg", "store path prefix under which derivation and output paths are resolved")
	rpcSocket   = flag.String("rpc_socket", "/run/buildtop/control.sock", "path of the Unix control socket clients dial for ring/snapshot handshakes")
	logSocket   = flag.String("log_socket", "/run/buildtop/ingest.sock", "path of the Unix socket build sessions connect to with their activity log")
	ringLen     = flag.Uint("ring_len", 1<<20, "minimum ring buffer size in bytes (rounded up to a power of two)")
	cliBin      = flag.String("cli", "nix", "build manager CLI binary used for opportunistic reference/output resolution")
	instanceDir = flag.String("instance_dir", "/run/buildtop", "directory for the daemon's instance-discovery file (internal/config)")
	ctracefile  = flag.String("ctracefile", "", "path to store a chrome trace event file at (load in chrome://tracing)")
)

// monotonicClock implements internal/state.Clock over a process-global
// monotonic origin.
type monotonicClock struct{ start time.Time }

func (c monotonicClock) NowNs() uint64 { return uint64(time.Since(c.start).Nanoseconds()) }

func main() {
	flag.Parse()
	log.SetPrefix("buildtopd: ")

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			log.Fatal(err)
		}
		internaltrace.Sink(f)
	}

	if err := run(); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run() error {
	coord := shutdown.New()
	coord.NotifyOnSignal()

	notifier, waiter := notify.New()
	defer notifier.Close()
	defer waiter.Close()

	ringName := fmt.Sprintf("buildtop-ring-%d", os.Getpid())
	ring, err := shm.CreateRing(ringName, uint32(*ringLen), notifier)
	if err != nil {
		return fmt.Errorf("creating ring: %w", err)
	}
	buildtop.RegisterAtExit(func() error { return ring.Unlink() })
	defer ring.Close()

	reader := &aterm.Reader{StorePrefix: *storePrefix}
	clock := monotonicClock{start: time.Now()}
	st := state.New(reader, ring, clock)

	resolver := resolve.NewCLIResolver(*cliBin, *storePrefix)

	ingestSrv := &ingest.Server{
		StorePrefix: *storePrefix,
		Sink:        st,
		Resolve:     resolver,
		Coord:       coord,
	}
	ingestLn, err := listenUnix(*logSocket)
	if err != nil {
		return fmt.Errorf("listening on log socket: %w", err)
	}

	rpcSrv := rpcproto.NewServer(
		rpcproto.RingInfo{Name: ring.Name(), TotalLen: ring.TotalLen()},
		func(name string, clientPid int32) (*shm.Snapshot, error) {
			frozen, snapSeq := st.Freeze(ring.WriteSeq)
			return shm.WriteSnapshot(name, frozen, snapSeq)
		},
		coord,
	)
	rpcLn, err := listenUnix(*rpcSocket)
	if err != nil {
		return fmt.Errorf("listening on rpc socket: %w", err)
	}
	addrfd.MustWrite(*rpcSocket)

	instPath := config.DefaultPath(*instanceDir, fmt.Sprintf("buildtopd-%d", os.Getpid()))
	if err := config.Write(instPath, config.Instance{
		Pid:         os.Getpid(),
		SocketPath:  *rpcSocket,
		RingName:    ring.Name(),
		RingLen:     ring.TotalLen(),
		StorePrefix: *storePrefix,
	}); err != nil {
		log.Printf("config: writing instance record: %v", err)
	}
	buildtop.RegisterAtExit(func() error { return config.Remove(instPath) })

	heartbeatStop := make(chan struct{})
	heartbeatTick := make(chan struct{})
	go func() {
		t := time.NewTicker(1 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				select {
				case heartbeatTick <- struct{}{}:
				default:
				}
			case <-coord.Done():
				close(heartbeatStop)
				return
			}
		}
	}()

	var g errgroup.Group
	g.Go(func() error { return ingestSrv.Serve(ingestLn) })
	g.Go(func() error { return rpcSrv.Serve(rpcLn) })
	g.Go(func() error { st.StartHeartbeat(heartbeatStop, heartbeatTick); return nil })

	banner("buildtopd listening", *rpcSocket, *logSocket)

	err = g.Wait()
	if exitErr := buildtop.RunAtExit(); exitErr != nil && err == nil {
		err = exitErr
	}
	return err
}

func listenUnix(path string) (*net.UnixListener, error) {
	os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	buildtop.RegisterAtExit(func() error { os.Remove(path); return nil })
	return ln, nil
}

func banner(msg string, args ...interface{}) {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("\033[1m%s\033[0m %v\n", msg, args)
		return
	}
	fmt.Printf("%s %v\n", msg, args)
}
