package constants

import (
	"time"
)

// Run directory layout. All paths are relative to the run directory root.
const (
	// OldStatusFile - status document written by legacy instrument software
	OldStatusFile = "Data/Status.xml"

	// NewStatusFile - status document written by the reports-based software generation
	NewStatusFile = "Data/reports/Status.xml"

	// RunInfoFile - run-info document (reads, flowcell, instrument)
	RunInfoFile = "RunInfo.xml"

	// RunParametersFile - run-parameters document (scanner id, barcode)
	RunParametersFile = "runParameters.xml"

	// RunParametersFileAlt - capitalised spelling used by newer instrument software
	RunParametersFileAlt = "RunParameters.xml"

	// RunParametersGlob - matches stale/partial run-parameters variants left by aborted runs
	RunParametersGlob = "runParameters.xml*"

	// RunCompletedFile - completion override marker
	RunCompletedFile = "Run.completed"

	// RTACompleteFile - written by RTA when basecalling finishes
	RTACompleteFile = "RTAComplete.txt"

	// EventsLogFile - instrument control software events log
	EventsLogFile = "Events.log"

	// RTALogDir - directory of RTA logs, scanned for early-exit messages
	RTALogDir = "Data/RTALogs"

	// PrimaryRTALog - main RTA log
	PrimaryRTALog = "Data/RTALogs/Log.txt"

	// SecondaryRTALog - RTA log location used by older software
	SecondaryRTALog = "Data/Log.txt"

	// LogsDir - instrument control software logs directory
	LogsDir = "Logs"

	// CycleTimesLog - per-cycle timing log
	CycleTimesLog = "Logs/CycleTimes.txt"

	// PostRunStepGlob - written after the last cycle on some instruments
	PostRunStepGlob = "*Post Run Step.log"

	// InterOpDir - binary per-cycle metrics directory
	InterOpDir = "InterOp"
)

// Basecalling marker files
const (
	// BasecallingCompleteFile - aggregate "all reads copied" marker
	BasecallingCompleteFile = "Basecalling_Netcopy_complete.txt"

	// BasecallingSingleReadFile - marker written by single-read instrument layouts
	BasecallingSingleReadFile = "Basecalling_Netcopy_complete_SINGLEREAD.txt"

	// BasecallingReadFileFormat - per-read marker, mixed-case legacy spelling
	BasecallingReadFileFormat = "Basecalling_Netcopy_complete_Read%d.txt"

	// BasecallingREADFileFormat - per-read marker, upper-case legacy spelling
	BasecallingREADFileFormat = "Basecalling_Netcopy_complete_READ%d.txt"
)

// Tail-match windows (lines inspected from the end of a file)
const (
	// RTACompletedWindow - lines searched for the "processing completed" sentinel
	RTACompletedWindow = 10

	// CycleTimesWindow - lines searched for the last "End Imaging" entry
	CycleTimesWindow = 10

	// LastEntryWindow - lines used for the last-entry fallback
	LastEntryWindow = 1

	// EventsLogWindow - lines searched in the events log
	EventsLogWindow = 50

	// RTACompleteWindow - lines searched in RTAComplete.txt
	RTACompleteWindow = 2

	// ExitedLogWindow - lines searched for "Application exited before completion"
	ExitedLogWindow = 5

	// TailReadChunkSize - bytes read per backwards step when tailing a file
	TailReadChunkSize = 4096

	// TailMaxBytes - hard cap on bytes buffered for one tail window (4 MiB)
	TailMaxBytes = 4 * 1024 * 1024
)

// Dates
const (
	// LogDateLayout - "MM/DD/YYYY,HH:MM:SS" as written by RTA and CycleTimes, leading zeros optional
	LogDateLayout = "1/2/2006,15:4:5"
)

// Scan Concurrency Limits
const (
	// DefaultScanConcurrency - default number of run directories classified in parallel
	DefaultScanConcurrency = 8

	// MinScanConcurrency - sequential mode
	MinScanConcurrency = 1

	// MaxScanConcurrency - upper bound, classification is file-system bound
	MaxScanConcurrency = 64
)

// Daemon
const (
	// DefaultPollInterval - interval between scan passes
	DefaultPollInterval = 5 * time.Minute

	// MinPollInterval - lower bound for poll interval
	MinPollInterval = 10 * time.Second

	// MaxPollInterval - upper bound for poll interval
	MaxPollInterval = 24 * time.Hour

	// WatchDebounce - quiet period before a file-system change triggers a rescan
	WatchDebounce = 2 * time.Second

	// DefaultStatusAddr - listen address for the status endpoint (empty disables it)
	DefaultStatusAddr = ""

	// StatusServerShutdownTimeout - grace period for in-flight status requests
	StatusServerShutdownTimeout = 5 * time.Second
)

// Outbound sinks
const (
	// SinkRetryMax - maximum retries for HTTP sink deliveries
	SinkRetryMax = 5

	// SinkRetryWaitMin - minimum backoff between HTTP sink retries
	SinkRetryWaitMin = 1 * time.Second

	// SinkRetryWaitMax - maximum backoff between HTTP sink retries
	SinkRetryWaitMax = 30 * time.Second

	// SinkRequestTimeout - per-request timeout for HTTP sink deliveries
	SinkRequestTimeout = 60 * time.Second

	// SinkDiskSafetyMargin - free space required by the file sink, as a multiple of the message size
	SinkDiskSafetyMargin = 1.1
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Daemon logging
const (
	// LogFileMaxSizeMB - rotate the daemon log after this many megabytes
	LogFileMaxSizeMB = 10

	// LogFileMaxBackups - rotated daemon logs kept on disk
	LogFileMaxBackups = 5

	// LogFileMaxAgeDays - rotated daemon logs older than this are removed
	LogFileMaxAgeDays = 30
)
