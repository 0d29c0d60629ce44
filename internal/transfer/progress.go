// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package transfer

import (
	"io"
	"math"
)

// progressStep is the granularity of progress notifications.
const progressStep = 0.01

// progressWriter counts bytes written through it and reports the completed
// fraction whenever it moves by at least progressStep.
type progressWriter struct {
	w        io.Writer
	total    int64
	written  int64
	reported float64
	report   func(float64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.total > 0 && p.report != nil {
		frac := math.Min(float64(p.written)/float64(p.total), 1)
		if frac-p.reported >= progressStep {
			p.reported = frac
			p.report(frac)
		}
	}
	return n, err
}

// finish reports completion if it has not been reported already.
func (p *progressWriter) finish() {
	if p.report != nil && p.reported < 1 {
		p.reported = 1
		p.report(1)
	}
}
