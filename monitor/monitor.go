// Copyright 2021 Molecula Corp. All rights reserved.
package monitor

import (
	"flag"
	"fmt"
	"sync/atomic"
	"time"

	sentry "github.com/getsentry/sentry-go"
)

const (
	LevelPanic = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

var isOn int32

// flushTimeout bounds how long a capture waits for delivery.
const flushTimeout = 2 * time.Second

// InitErrorMonitor starts reporting to the Sentry project identified by dsn.
// An empty dsn leaves the monitor off.
func InitErrorMonitor(version, dsn string) error {
	if dsn == "" || isTest() {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		Debug:            false,
		Release:          version,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	atomic.StoreInt32(&isOn, 1)
	CaptureMessage("Session:Started")
	return nil
}

// CaptureMessage sends a message to Sentry.
func CaptureMessage(message string) {
	if !IsOn() {
		return
	}
	sentry.CaptureMessage(message)
	defer sentry.Flush(flushTimeout)
}

// CaptureException sends an error to Sentry. Messages less severe than a
// warning are dropped.
func CaptureException(level int, format string, v ...interface{}) {
	if !IsOn() {
		return
	}
	if level > LevelWarn {
		return
	}
	sentry.CaptureException(fmt.Errorf(format, v...))
	defer sentry.Flush(flushTimeout)
}

// CaptureError sends err to Sentry with the given tags, used for fatal
// protocol violations.
func CaptureError(err error, tags map[string]string) {
	if !IsOn() || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
	defer sentry.Flush(flushTimeout)
}

// IsOn returns true if the monitor is enabled.
func IsOn() bool {
	return atomic.LoadInt32(&isOn) == 1
}

// isTest returns true if execution is part of test
func isTest() bool {
	return flag.Lookup("test.v") != nil
}
