package player

import "sync/atomic"

var traceLogEnabled atomic.Bool

// SetTraceLoggingEnabled toggles libVLC verbose file logging (vlc.log). It
// must be set before Init.
func SetTraceLoggingEnabled(enabled bool) {
	traceLogEnabled.Store(enabled)
}

// vlcArgs returns the libVLC init arguments for the current trace setting.
func vlcArgs() []string {
	args := []string{
		"--no-video",
		"--no-color",
		"--network-caching=1500", // 1.5s for HLS/stream buffering
		"--live-caching=1500",
		"--http-reconnect",
	}
	if traceLogEnabled.Load() {
		// file logging works with --file-logging alone, no logger interface needed
		args = append(args,
			"--verbose=2",
			"--file-logging",
			"--log-verbose=2",
			"--logfile=vlc.log",
		)
	}
	return args
}
