// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.AfterFunc, or time.NewTicker directly. In production, Real()
// provides standard library behavior. In tests, Fake() provides a
// deterministic clock that advances only when Advance is called.
//
// The session supervisor's attach timeout and the console monitor's
// poll ticker both go through this interface, so every timer-driven
// state transition can be exercised deterministically:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	supervisor := session.New(cfg) // cfg.Clock = c
//	// ... start ...
//	c.WaitForTimers(1)            // attach timeout armed
//	c.Advance(time.Minute)        // fire it deterministically
package clock
