package main

import "time"

const (
	txQueueSize       = 1024 // capacity of async TX ring
	serialReadBufSize = 4096 // per read() buffer for serial backend
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// nextBackoff doubles d up to rxBackoffMax.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > rxBackoffMax {
		d = rxBackoffMax
	}
	return d
}
