package rpcproto

import (
	"net"
	"os"

	"golang.org/x/xerrors"
)

// Client is a connection to a daemon's RPC socket, used by a probe
// process to fetch ring and snapshot handles.
type Client struct {
	conn net.Conn
}

// Dial connects to the daemon's Unix socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, xerrors.Errorf("rpcproto: dial %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// RequestRing asks the daemon for the ring's name and total length.
func (c *Client) RequestRing() (name string, totalLen uint64, err error) {
	if err := WriteRequest(c.conn, Request{Kind: RequestRing}); err != nil {
		return "", 0, err
	}
	resp, err := ReadResponse(c.conn)
	if err != nil {
		return "", 0, err
	}
	switch resp.Kind {
	case ResponseRingReady:
		return resp.RingName, resp.TotalLen, nil
	case ResponseError:
		return "", 0, xerrors.Errorf("rpcproto: daemon: %s", resp.Message)
	default:
		return "", 0, xerrors.Errorf("rpcproto: unexpected response kind %d to RequestRing", resp.Kind)
	}
}

// RequestSnapshot asks the daemon for a fresh snapshot tagged with
// this process's PID, dropping any snapshot it previously held for
// this connection.
func (c *Client) RequestSnapshot() (name string, totalLen, snapSeq uint64, err error) {
	req := Request{Kind: RequestSnapshot, ClientPid: int32(os.Getpid())}
	if err := WriteRequest(c.conn, req); err != nil {
		return "", 0, 0, err
	}
	resp, err := ReadResponse(c.conn)
	if err != nil {
		return "", 0, 0, err
	}
	switch resp.Kind {
	case ResponseSnapshotReady:
		return resp.SnapshotName, resp.TotalLen, resp.SnapSeq, nil
	case ResponseError:
		return "", 0, 0, xerrors.Errorf("rpcproto: daemon: %s", resp.Message)
	default:
		return "", 0, 0, xerrors.Errorf("rpcproto: unexpected response kind %d to RequestSnapshot", resp.Kind)
	}
}
