package daemon

import (
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns the daemon logger. With a path configured the log
// rotates on disk; otherwise it goes to stderr.
func NewLogger(path string) *log.Logger {
	if path == "" {
		return log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, "[daemon] ", log.LstdFlags)
}
