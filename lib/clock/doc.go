// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that the
// ticket rotation loops can be tested without waiting on wall time.
//
// Production code accepts a Clock parameter instead of calling
// time.Now, time.After, time.NewTicker, or time.Sleep directly.
// Real() provides standard library behavior; Fake() provides a
// deterministic clock that advances only when Advance is called.
//
// A typical test drives a background loop like this:
//
//	c := clock.Fake(time.Unix(1700000000, 0))
//	go updater.Run(ctx)
//	c.WaitForTimers(1)          // loop has registered its next wakeup
//	c.Advance(10 * time.Second) // fire it deterministically
//
// WaitForTimers eliminates the race between a goroutine registering a
// timer and the test advancing the clock; never synchronize on real
// sleeps in tests.
package clock
