// Package ipcserver exposes pkg/core.Service's Core interface to other local
// processes (a GUI, sdctl) over a Unix-domain socket, so a single running
// daemon can serve multiple clients without each one linking the scanning
// engines directly.
//
// The wire protocol is a newline-delimited JSON request/response exchange
// rather than gRPC/protobuf: regenerating protobuf stubs requires running
// protoc, which this environment cannot do, and hand-rolling protobuf wire
// encoding would be worse than a straightforward JSON framing. Each message
// is a single JSON object terminated by a newline; a connection handles one
// request at a time, except for "subscribe" which switches the connection
// into a one-way stream of event messages until the client disconnects.
package ipcserver

import (
	"encoding/json"

	"github.com/xanados/searchdestroy-core/pkg/core"
)

// method identifies which Core operation a request invokes.
type method string

const (
	methodScan              method = "scan"
	methodCancel            method = "cancel"
	methodQuarantineList    method = "quarantine_list"
	methodQuarantineRestore method = "quarantine_restore"
	methodQuarantinePurge   method = "quarantine_purge"
	methodMonitorStart      method = "monitor_start"
	methodMonitorStop       method = "monitor_stop"
	methodUpdateDefinitions method = "update_definitions"
	methodElevationAcquire  method = "elevation_acquire"
	methodSubscribe         method = "subscribe"
)

// request is one JSON-line client message. Only the fields relevant to
// Method are populated.
type request struct {
	Method    method        `json:"method"`
	Path      string        `json:"path,omitempty"`
	Recursive bool          `json:"recursive,omitempty"`
	Mode      core.ScanMode `json:"mode,omitempty"`
	GroupID   string        `json:"group_id,omitempty"`
	RecordID  string        `json:"record_id,omitempty"`
	Overwrite bool          `json:"overwrite,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Scopes    []string      `json:"scopes,omitempty"`
}

// response is one JSON-line server message, matching a single request
// (except during a subscribe stream, where the server sends one response
// per delivered event).
type response struct {
	Error     string            `json:"error,omitempty"`
	GroupID   string            `json:"group_id,omitempty"`
	Records   []quarantineEntry `json:"records,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Event     json.RawMessage   `json:"event,omitempty"`
}

// quarantineEntry is the wire representation of a quarantine.Record.
type quarantineEntry struct {
	ID                string `json:"id"`
	OriginalPath      string `json:"original_path"`
	Digest            string `json:"digest"`
	Size              int64  `json:"size"`
	Family            string `json:"family"`
	EngineDefinitions string `json:"engine_definitions"`
	QuarantinedAt     string `json:"quarantined_at"`
}
