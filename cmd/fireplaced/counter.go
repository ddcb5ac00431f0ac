package main

import "sync"

// Counter is a bounded scalar with a fixed step size and an ordered list of
// subscriber callbacks invoked on every change.
//
// It is the one piece of state shared for writing between the encoder
// callback goroutine, the fade scheduler running on the worker, and external
// volume requests. Two locks split the concerns: notifyMu serializes
// mutation plus subscriber delivery so callbacks observe changes in order,
// while mu guards only the value itself — subscribers may do slow work
// (e.g. write to an audio backend) without ever wedging Value() readers.
type Counter struct {
	notifyMu sync.Mutex

	mu        sync.Mutex
	value     float64
	min, max  float64
	step      float64
	callbacks []func(float64)
}

// NewCounter creates a counter clamped to [min, max].
func NewCounter(value, min, max, step float64) *Counter {
	c := &Counter{min: min, max: max, step: step}
	c.value = c.clamp(value)
	return c
}

// Subscribe appends a callback. Callbacks run synchronously on every change,
// in registration order, outside the value lock.
func (c *Counter) Subscribe(fn func(float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// Up increments by one step, clamping to the maximum.
func (c *Counter) Up() {
	c.apply(func(v float64) float64 { return v + c.step })
}

// Down decrements by one step, clamping to the minimum.
func (c *Counter) Down() {
	c.apply(func(v float64) float64 { return v - c.step })
}

// Set assigns an absolute value (clamped) and notifies subscribers.
func (c *Counter) Set(v float64) {
	c.apply(func(float64) float64 { return v })
}

// Value returns the current value. Never blocks on subscriber work.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// apply mutates the value under mu, then delivers the change to subscribers
// with only notifyMu held. A concurrent mutator waits for the previous
// delivery to finish, so subscribers see values in mutation order.
func (c *Counter) apply(next func(float64) float64) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.value = c.clamp(next(c.value))
	v := c.value
	cbs := c.callbacks
	c.mu.Unlock()

	for _, fn := range cbs {
		fn(v)
	}
}

func (c *Counter) clamp(v float64) float64 {
	if v < c.min {
		return c.min
	}
	if v > c.max {
		return c.max
	}
	return v
}
