package extract

import (
	"fmt"
	"strings"

	"github.com/HatiCode/solpivot/pkg/window"
)

// UnitError is a failure inside one extraction unit. Property, Dataset and
// Window are zero when the failure happened before they were known.
type UnitError struct {
	Scenario   string
	Collection int
	Property   int
	Dataset    string
	Window     *window.Window
	Op         string
	Err        error
}

func (e *UnitError) Error() string {
	return e.Summary() + ": " + e.Err.Error()
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// Summary names the failed unit without the cause.
func (e *UnitError) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed: scenario=%s collection=%d", e.Op, e.Scenario, e.Collection)
	if e.Property != 0 {
		fmt.Fprintf(&b, " property=%d", e.Property)
	}
	if e.Dataset != "" {
		fmt.Fprintf(&b, " dataset=%s", e.Dataset)
	}
	if e.Window != nil {
		fmt.Fprintf(&b, " window=%s", e.Window)
	}
	return b.String()
}

// with copies e for a failure of op in w.
func (e *UnitError) with(op string, w *window.Window, err error) *UnitError {
	c := *e
	c.Op = op
	c.Window = w
	c.Err = err
	return &c
}
