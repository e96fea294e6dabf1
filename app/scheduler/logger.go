// Package scheduler
package scheduler

import (
	"io"
	"log"
	"os"

	"github.com/taleroad/groupbuy-engine/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newSchedulerLogger builds a logger that writes to stdout and a rotating
// file. Scheduler output must survive restarts, so the file side rotates
// instead of truncating.
func newSchedulerLogger(prefix string, cfg config.LoggingConfig, logPath string) *log.Logger {
	if logPath == "" {
		return log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds|log.LUTC)
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	mw := io.MultiWriter(os.Stdout, rotator)
	return log.New(mw, prefix, log.LstdFlags|log.Lmicroseconds|log.LUTC)
}
