// Package latest holds the most recently ingested sample for polling readers.
package latest

import (
	"sync/atomic"

	"github.com/abelbrown/ecgmon/internal/model"
)

// View is a single-slot holder, overwritten on every Set. Lock-free.
type View struct {
	p atomic.Pointer[model.Sample]
}

// Set records s as the latest sample.
func (v *View) Set(s model.Sample) {
	v.p.Store(&s)
}

// Get returns the latest sample, or false if none has been set.
func (v *View) Get() (model.Sample, bool) {
	s := v.p.Load()
	if s == nil {
		return model.Sample{}, false
	}
	return *s, true
}
