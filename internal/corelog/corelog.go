// Package corelog configures process-wide logging for the ball-device
// machine, grounded on cmd/vi-fighter/main.go's setupLogging: a rotated log
// file under a logs/ directory, discarded entirely when debug logging is
// off. Logging is opt-in: nothing is written unless debug is set.
package corelog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

const (
	dir         = "logs"
	fileName    = "balldevice.log"
	maxFileSize = 10 * 1024 * 1024 // 10MB
)

// Setup opens (rotating if necessary) logs/balldevice.log and redirects the
// standard logger to it. When debug is false, output is discarded instead —
// matching setupLogging's "quiet unless asked" default. The returned file,
// if non-nil, must be closed by the caller on shutdown.
func Setup(debug bool) *os.File {
	if !debug {
		log.SetOutput(io.Discard)
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create logs directory: %v\n", err)
		log.SetOutput(io.Discard)
		return nil
	}

	logPath := filepath.Join(dir, fileName)

	if info, err := os.Stat(logPath); err == nil {
		if info.Size() > maxFileSize {
			timestamp := time.Now().Format("2006-01-02-15-04-05")
			rotated := filepath.Join(dir, fmt.Sprintf("balldevice-%s.log", timestamp))
			if err := os.Rename(logPath, rotated); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to rotate log file: %v\n", err)
			}
		}
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
		log.SetOutput(io.Discard)
		return nil
	}

	log.SetOutput(logFile)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Printf("=== balldevice controller started ===")

	return logFile
}
