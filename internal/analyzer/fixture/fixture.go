// Package fixture holds a task definition in a foreign package so analyzer
// tests can exercise dotted-path resolution.
package fixture

import "taskweave/internal/core"

type Remote struct {
	core.Base
	Value int `export:"value"`
}

func (r *Remote) Run(tc *core.Context) error {
	r.Value = 1
	return nil
}
