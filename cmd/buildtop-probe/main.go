// Command buildtop-probe is a minimal debug client: it dials a
// buildtopd's control socket, performs the ring and snapshot
// handshakes, attaches the shared-memory ring and decodes snapshots,
// and prints every update and periodic snapshot summary to stdout. It
// renders nothing beyond that — no TUI, no tree view — it exists only
// to exercise the client-facing surface (internal/rpcproto,
// internal/shm) without being the real interactive tool.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/distr1/buildtop/internal/model"
	"github.com/distr1/buildtop/internal/notify"
	"github.com/distr1/buildtop/internal/rpcproto"
	"github.com/distr1/buildtop/internal/shm"
)

var (
	rpcSocket    = flag.String("rpc_socket", "/run/buildtop/control.sock", "daemon control socket to dial")
	snapInterval = flag.Duration("snapshot_interval", 5*time.Second, "how often to request and print a fresh snapshot")
)

func main() {
	flag.Parse()
	log.SetPrefix("buildtop-probe: ")
	if err := run(); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run() error {
	client, err := rpcproto.Dial(*rpcSocket)
	if err != nil {
		return err
	}
	defer client.Close()

	ringName, ringTotalLen, err := client.RequestRing()
	if err != nil {
		return fmt.Errorf("requesting ring: %w", err)
	}
	fmt.Printf("ring: %s (%d bytes)\n", ringName, ringTotalLen)

	_, waiter := notify.New()
	defer waiter.Close()
	reader, err := shm.AttachRing(ringName, ringTotalLen, waiter)
	if err != nil {
		return fmt.Errorf("attaching ring: %w", err)
	}
	defer reader.Close()

	if err := printSnapshot(client, reader); err != nil {
		return err
	}

	snapTick := time.NewTicker(*snapInterval)
	defer snapTick.Stop()

	for {
		select {
		case <-snapTick.C:
			if err := printSnapshot(client, reader); err != nil {
				log.Printf("snapshot: %v", err)
			}
		default:
		}

		result, u, from, to, err := reader.TryRead()
		if err != nil {
			log.Printf("ring: %v", err)
			continue
		}
		switch result {
		case shm.ReadNone:
			reader.WaitForUpdate()
		case shm.ReadUpdate:
			printUpdate(u)
		case shm.ReadLost:
			fmt.Printf("lost updates %d..%d, resyncing via snapshot\n", from, to)
			if err := printSnapshot(client, reader); err != nil {
				log.Printf("resync snapshot: %v", err)
			}
		case shm.ReadNeedCatchup:
			fmt.Println("fell behind the ring, resyncing via snapshot")
			if err := printSnapshot(client, reader); err != nil {
				log.Printf("resync snapshot: %v", err)
			}
		}
	}
}

// printSnapshot requests a fresh snapshot, decodes it, repositions the
// ring reader via SyncToSnapshot to the snapshot's sequence, and
// prints a one-line summary.
func printSnapshot(client *rpcproto.Client, reader *shm.RingReader) error {
	name, totalLen, snapSeq, err := client.RequestSnapshot()
	if err != nil {
		return err
	}
	jobs, nodes, roots, _, err := shm.ReadSnapshot(name, totalLen)
	if err != nil {
		return err
	}
	reader.SyncToSnapshot(snapSeq)
	fmt.Printf("snapshot: %d jobs, %d nodes, %d roots (snap_seq=%d)\n", len(jobs), len(nodes), len(roots), snapSeq)
	return nil
}

func printUpdate(u model.Update) {
	switch u.Kind {
	case model.UpdateJobNew:
		if u.Job != nil {
			fmt.Printf("job new: jid=%d drv=%s\n", u.Job.Jid, u.Job.Drv)
		}
	case model.UpdateJobUpdate:
		fmt.Printf("job update: jid=%d status=%s\n", u.Jid, u.Status)
	case model.UpdateJobFinish:
		fmt.Printf("job finish: jid=%d stop_time_ns=%d\n", u.Jid, u.StopTimeNs)
	case model.UpdateDepGraphUpdate:
		fmt.Printf("dep graph: %s <- %d deps\n", u.Drv, len(u.Deps))
	case model.UpdateHeartbeat:
		fmt.Printf("heartbeat seq=%d\n", u.Seq)
	}
}
