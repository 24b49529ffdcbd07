// Package eventbus delivers structured scan/monitor/quarantine events to a
// single consumer (the IPC layer, fronting whatever UI is attached). Events
// form a closed set of variants, each implementing the sealed Event
// interface, rather than a single struct with many optional fields.
package eventbus

import "time"

// Event is implemented by every event variant the bus can carry. The
// unexported method seals the set: only types in this package can satisfy
// it.
type Event interface {
	eventKind() kind
}

// kind identifies an event variant for bus bookkeeping (drop policy,
// dropped-count annotation) without a type switch at every call site.
type kind int

const (
	kindScanStarted kind = iota
	kindProgress
	kindFileScanned
	kindDetection
	kindScanCompleted
	kindError
	kindMonitorDegraded
	kindMonitorEventsDropped
	kindSessionEstablished
	kindQuarantineChanged
)

// ScanStarted announces the beginning of a scan group.
type ScanStarted struct {
	GroupID string
	Target  string
	Started time.Time
}

func (ScanStarted) eventKind() kind { return kindScanStarted }

// Progress reports aggregate counters for a scan group, emitted at a rate
// bounded to 10 Hz per group by the producer. DroppedSinceLast is non-zero
// only when earlier Progress events for this group were dropped by the bus
// under backpressure.
type Progress struct {
	GroupID          string
	FilesSeen        uint64
	FilesScanned     uint64
	BytesScanned     uint64
	Detections       uint64
	CurrentPath      string
	DroppedSinceLast uint64
}

func (Progress) eventKind() kind { return kindProgress }

// FileScanned reports the composite verdict for a single file. DroppedSinceLast
// carries forward the same dropped-count annotation as Progress.
type FileScanned struct {
	GroupID          string
	Path             string
	Verdict          string
	DroppedSinceLast uint64
}

func (FileScanned) eventKind() kind { return kindFileScanned }

// Detection reports a non-clean verdict, never dropped by the bus.
type Detection struct {
	GroupID  string
	Path     string
	Verdict  string
	Severity string
	Family   string
}

func (Detection) eventKind() kind { return kindDetection }

// ScanCompleted announces the end of a scan group. No event for this group
// follows it.
type ScanCompleted struct {
	GroupID    string
	FilesTotal uint64
	Detections uint64
	Completed  time.Time
	Cancelled  bool
}

func (ScanCompleted) eventKind() kind { return kindScanCompleted }

// Error reports a non-fatal error associated with a scan group or component,
// never dropped by the bus.
type Error struct {
	GroupID string
	Kind    string
	Message string
}

func (Error) eventKind() kind { return kindError }

// MonitorDegraded announces that the real-time monitor has fallen back to
// polling.
type MonitorDegraded struct {
	Reason string
	At     time.Time
}

func (MonitorDegraded) eventKind() kind { return kindMonitorDegraded }

// MonitorEventsDropped announces that the real-time monitor's rate cap
// forced one or more filesystem change events to be discarded rather than
// turned into scan tasks. TotalDropped is the cumulative count since the
// monitor started, not just this occurrence.
type MonitorEventsDropped struct {
	TotalDropped uint64
	At           time.Time
}

func (MonitorEventsDropped) eventKind() kind { return kindMonitorEventsDropped }

// SessionEstablished announces a new elevation session.
type SessionEstablished struct {
	SessionID string
	Scopes    []string
	ExpiresAt time.Time
}

func (SessionEstablished) eventKind() kind { return kindSessionEstablished }

// QuarantineChanged announces a quarantine store mutation (add/restore/purge).
type QuarantineChanged struct {
	RecordID string
	Action   string
}

func (QuarantineChanged) eventKind() kind { return kindQuarantineChanged }

// droppable reports whether events of this kind may be dropped under
// backpressure. Detection, ScanCompleted, Error, and the session/quarantine/
// monitor lifecycle events are never dropped; Progress is dropped first,
// then FileScanned.
func (k kind) droppable() bool {
	return k == kindProgress || k == kindFileScanned
}
