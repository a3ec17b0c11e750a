// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package ceremonylog is the coordinator's structured logger, built on
// log/slog the way go-ethereum's own log package is (observed in its
// test suite: slog.Attr key/value pairs, Info("msg", "k", v) call shape).
// It adds a glog-style per-component verbosity filter on top of slog's
// two stock handlers (text for local development, JSON for production).
package ceremonylog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level mirrors slog.Level naming for call-site readability.
type Level = slog.Level

const (
	LevelTrace Level = slog.Level(-8)
	LevelDebug Level = slog.LevelDebug
	LevelInfo  Level = slog.LevelInfo
	LevelWarn  Level = slog.LevelWarn
	LevelError Level = slog.LevelError
	LevelCrit  Level = slog.Level(12)
)

// glogHandler wraps a base handler with a mutable verbosity threshold and
// per-component overrides, mirroring go-ethereum's NewGlogHandler.
type glogHandler struct {
	mu        sync.RWMutex
	base      slog.Handler
	verbosity Level
	overrides map[string]Level
}

// NewGlogHandler wraps base with a mutable verbosity filter.
func NewGlogHandler(base slog.Handler) *glogHandler {
	return &glogHandler{base: base, verbosity: LevelInfo, overrides: map[string]Level{}}
}

// Verbosity sets the default threshold every record must meet.
func (h *glogHandler) Verbosity(lvl Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.verbosity = lvl
}

// Component sets a per-logger-name verbosity override, analogous to
// go-ethereum's "vmodule".
func (h *glogHandler) Component(name string, lvl Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.overrides[name] = lvl
}

func (h *glogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return level >= h.verbosity
}

func (h *glogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.RLock()
	threshold := h.verbosity
	var component string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
			return false
		}
		return true
	})
	if lvl, ok := h.overrides[component]; ok {
		threshold = lvl
	}
	h.mu.RUnlock()
	if r.Level < threshold {
		return nil
	}
	return h.base.Handle(ctx, r)
}

func (h *glogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &glogHandler{base: h.base.WithAttrs(attrs), verbosity: h.verbosity, overrides: h.overrides}
}

func (h *glogHandler) WithGroup(name string) slog.Handler {
	return &glogHandler{base: h.base.WithGroup(name), verbosity: h.verbosity, overrides: h.overrides}
}

// TextHandler returns a human-readable handler for local development.
func TextHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: LevelTrace})
}

// JSONHandler returns a machine-readable handler for production.
func JSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: LevelTrace})
}

// New builds the coordinator's root logger: JSON in production, text
// otherwise, wrapped in the glog verbosity filter.
func New(component string, json bool, verbosity Level) *slog.Logger {
	var base slog.Handler
	if json {
		base = JSONHandler(os.Stdout)
	} else {
		base = TextHandler(os.Stdout)
	}
	glog := NewGlogHandler(base)
	glog.Verbosity(verbosity)
	return slog.New(glog).With("component", component)
}
