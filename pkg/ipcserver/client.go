package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// RecommendedDialTimeout bounds how long a client waits to connect to a
// daemon socket before concluding it is not running.
const RecommendedDialTimeout = 1 * time.Second

// Client is a connection to a running daemon's IPC socket.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	encoder *json.Encoder
}

// Dial connects to the daemon socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn), encoder: json.NewEncoder(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(req request) (response, error) {
	if err := c.encoder.Encode(req); err != nil {
		return response{}, err
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return response{}, err
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return response{}, err
	}
	if resp.Error != "" {
		return response{}, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// Scan requests a scan of path on the daemon and returns the allocated scan
// group identifier.
func (c *Client) Scan(path string, recursive bool) (string, error) {
	resp, err := c.call(request{Method: methodScan, Path: path, Recursive: recursive})
	if err != nil {
		return "", err
	}
	return resp.GroupID, nil
}

// Cancel cancels an in-progress scan group.
func (c *Client) Cancel(groupID string) error {
	_, err := c.call(request{Method: methodCancel, GroupID: groupID})
	return err
}

// QuarantineList lists every quarantined record known to the daemon.
func (c *Client) QuarantineList() ([]quarantineEntry, error) {
	resp, err := c.call(request{Method: methodQuarantineList})
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// QuarantineRestore restores a quarantined record using a previously
// acquired elevation session.
func (c *Client) QuarantineRestore(sessionID, recordID string, overwrite bool) error {
	_, err := c.call(request{Method: methodQuarantineRestore, SessionID: sessionID, RecordID: recordID, Overwrite: overwrite})
	return err
}

// QuarantinePurge permanently deletes a quarantined record.
func (c *Client) QuarantinePurge(recordID string) error {
	_, err := c.call(request{Method: methodQuarantinePurge, RecordID: recordID})
	return err
}

// MonitorStart begins real-time monitoring on the daemon.
func (c *Client) MonitorStart() error {
	_, err := c.call(request{Method: methodMonitorStart})
	return err
}

// MonitorStop halts real-time monitoring on the daemon.
func (c *Client) MonitorStop() error {
	_, err := c.call(request{Method: methodMonitorStop})
	return err
}

// UpdateDefinitions triggers a definitions reload on every engine.
func (c *Client) UpdateDefinitions() error {
	_, err := c.call(request{Method: methodUpdateDefinitions})
	return err
}

// AcquireElevation requests a privileged session authorizing the given
// scopes, prompting the daemon's configured Prompter if needed.
func (c *Client) AcquireElevation(scopes []string) (string, error) {
	resp, err := c.call(request{Method: methodElevationAcquire, Scopes: scopes})
	if err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// Subscribe sends the subscribe request and returns a channel of raw event
// JSON, closed when the connection ends. The caller owns closing the Client
// once done consuming events.
func (c *Client) Subscribe() (<-chan json.RawMessage, error) {
	if err := c.encoder.Encode(request{Method: methodSubscribe}); err != nil {
		return nil, err
	}
	out := make(chan json.RawMessage, 64)
	go func() {
		defer close(out)
		for {
			line, err := c.reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var resp response
			if err := json.Unmarshal(line, &resp); err != nil {
				continue
			}
			out <- resp.Event
		}
	}()
	return out, nil
}
