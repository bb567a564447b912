// Copyright (C) 2020-2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Errs collects errors raised by independent goroutines so that a single
// process exit code can be derived once every logical thread has joined.
type Errs struct {
	mu   sync.RWMutex
	errs []error
}

// Add records err, ignoring nil.
func (e *Errs) Add(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// Errored reports whether any error has been added.
func (e *Errs) Errored() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs) > 0
}

// Err folds the collection into a single error, or nil if empty.
func (e *Errs) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch len(e.errs) {
	case 0:
		return nil
	case 1:
		return e.errs[0]
	default:
		return errors.New(e.string())
	}
}

func (e *Errs) string() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d error", len(e.errs)))
	if len(e.errs) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString(" occurred:")

	for _, err := range e.errs {
		sb.WriteString("\n\t* ")
		sb.WriteString(err.Error())
	}

	return sb.String()
}

// Len returns the number of errors collected.
func (e *Errs) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs)
}
