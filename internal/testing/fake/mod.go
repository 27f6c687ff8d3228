// Package fake provides fake implementations for interfaces commonly used in
// the repository.
// The implementations offer configuration to return errors when it is needed by
// the unit test and it is also possible to record the call of functions of an
// object in some cases.
package fake

import (
	"sync"
	"time"

	"golang.org/x/xerrors"
)

var fakeErr = xerrors.New("fake error")

// GetError returns the fake error.
func GetError() error {
	return fakeErr
}

// Err returns the message of an error wrapping the fake error the way the
// components of the repository do it.
func Err(msg string) string {
	return msg + ": " + fakeErr.Error()
}

// Call is a tool to keep track of a function calls.
type Call struct {
	sync.Mutex
	calls [][]interface{}
}

// Get returns the nth call ith parameter.
func (c *Call) Get(n, i int) interface{} {
	c.Lock()
	defer c.Unlock()

	return c.calls[n][i]
}

// Len returns the number of calls.
func (c *Call) Len() int {
	if c == nil {
		return 0
	}

	c.Lock()
	defer c.Unlock()

	return len(c.calls)
}

// Add adds a call to the list.
func (c *Call) Add(args ...interface{}) {
	if c == nil {
		return
	}

	c.Lock()
	c.calls = append(c.calls, args)
	c.Unlock()
}

// Clock is a fake clock that only moves when told to.
//
// - implements lifecycle.Clock
type Clock struct {
	sync.Mutex
	now time.Time
}

// NewClock returns a clock set to the given time.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now implements lifecycle.Clock.
func (c *Clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()

	return c.now
}

// Set moves the clock to the given time.
func (c *Clock) Set(now time.Time) {
	c.Lock()
	c.now = now
	c.Unlock()
}

// Advance moves the clock forward by the given duration.
func (c *Clock) Advance(d time.Duration) {
	c.Lock()
	c.now = c.now.Add(d)
	c.Unlock()
}
