// Package cgitest provides an in-memory cgi.Conn for tests.
package cgitest

import (
	"bytes"
	"sync"
)

// Conn records everything written to it.
type Conn struct {
	mu       sync.Mutex
	id       string
	writes   [][]byte
	closed   bool
	closes   int
	WriteErr error
}

// NewConn returns an open connection with the given id.
func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return "test:" + c.id }

func (c *Conn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closes++
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Writes returns a copy of every Write payload, in order.
func (c *Conn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Written returns all written bytes concatenated.
func (c *Conn) Written() []byte {
	return bytes.Join(c.Writes(), nil)
}

// Closes returns how many times Close was called.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
