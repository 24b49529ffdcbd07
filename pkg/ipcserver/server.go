package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"

	"github.com/xanados/searchdestroy-core/pkg/core"
	"github.com/xanados/searchdestroy-core/pkg/elevation"
	"github.com/xanados/searchdestroy-core/pkg/logging"
	"github.com/xanados/searchdestroy-core/pkg/must"
)

// Server accepts connections on a Unix-domain socket and dispatches
// JSON-line requests to an underlying *core.Service.
type Server struct {
	service  *core.Service
	listener net.Listener
	logger   *logging.Logger
}

// Listen creates a Unix-domain socket at path with restrictive permissions,
// removing a stale socket left behind by a prior crashed daemon first.
func Listen(path string, service *core.Service, logger *logging.Logger) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return nil, err
	}
	return &Server{service: service, listener: listener, logger: logger.Sublogger("ipcserver")}, nil
}

// Addr returns the socket path the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until the listener is closed, handling each one
// in its own goroutine. It returns once Close has been called.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handle(conn net.Conn) {
	defer must.Close(conn, s.logger)
	reader := bufio.NewReader(conn)
	encoder := json.NewEncoder(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			encoder.Encode(response{Error: "malformed request: " + err.Error()})
			continue
		}

		if req.Method == methodSubscribe {
			s.streamEvents(encoder)
			return
		}
		encoder.Encode(s.dispatch(&req))
	}
}

// dispatch handles every request method except "subscribe", which
// transitions the connection into a one-way event stream instead.
func (s *Server) dispatch(req *request) response {
	ctx := context.Background()
	switch req.Method {
	case methodScan:
		groupID, err := s.service.Scan(ctx, core.ScanTarget{Path: req.Path, Recursive: req.Recursive}, scanPolicyFor(s.service, req))
		if err != nil {
			return response{Error: err.Error()}
		}
		return response{GroupID: string(groupID)}

	case methodCancel:
		if err := s.service.Cancel(core.ScanGroupID(req.GroupID)); err != nil {
			return response{Error: err.Error()}
		}
		return response{}

	case methodQuarantineList:
		records, err := s.service.QuarantineList()
		if err != nil {
			return response{Error: err.Error()}
		}
		entries := make([]quarantineEntry, 0, len(records))
		for _, r := range records {
			entries = append(entries, quarantineEntry{
				ID:                r.ID,
				OriginalPath:      r.OriginalPath,
				Digest:            r.Digest,
				Size:              r.Size,
				Family:            r.Family,
				EngineDefinitions: r.EngineDefinitions,
				QuarantinedAt:     r.QuarantinedAt.Format(timeFormat),
			})
		}
		return response{Records: entries}

	case methodQuarantineRestore:
		if err := s.service.QuarantineRestore(req.SessionID, req.RecordID, req.Overwrite); err != nil {
			return response{Error: err.Error()}
		}
		return response{}

	case methodQuarantinePurge:
		if err := s.service.QuarantinePurge(req.RecordID); err != nil {
			return response{Error: err.Error()}
		}
		return response{}

	case methodMonitorStart:
		if err := s.service.MonitorStart(); err != nil {
			return response{Error: err.Error()}
		}
		return response{}

	case methodMonitorStop:
		if err := s.service.MonitorStop(); err != nil {
			return response{Error: err.Error()}
		}
		return response{}

	case methodUpdateDefinitions:
		if err := s.service.UpdateDefinitions(ctx); err != nil {
			return response{Error: err.Error()}
		}
		return response{}

	case methodElevationAcquire:
		sessionID, err := s.service.Elevation().Acquire(toScopes(req.Scopes))
		if err != nil {
			return response{Error: err.Error()}
		}
		return response{SessionID: sessionID}

	default:
		return response{Error: "unknown method: " + string(req.Method)}
	}
}

// streamEvents relays Subscribe's event channel to the connection, one JSON
// line per event, until the subscription ends.
func (s *Server) streamEvents(encoder *json.Encoder) {
	events, unsubscribe := s.service.Subscribe()
	defer unsubscribe()
	for e := range events {
		encoded, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := encoder.Encode(response{Event: encoded}); err != nil {
			return
		}
	}
}

func toScopes(raw []string) []elevation.Scope {
	scopes := make([]elevation.Scope, len(raw))
	for i, s := range raw {
		scopes[i] = elevation.Scope(s)
	}
	return scopes
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func scanPolicyFor(service *core.Service, req *request) core.ScanPolicy {
	policy := service.DefaultScanPolicy()
	if req.Mode != "" {
		policy.Mode = req.Mode
	}
	return policy
}

