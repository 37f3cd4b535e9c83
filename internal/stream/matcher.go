package stream

import (
	"github.com/stereosphere/panorec/internal/align"
	"github.com/stereosphere/panorec/internal/frame"
)

// Matcher is the capability the stream stages need from a pairwise
// correlator. *align.PairwiseCorrelator satisfies it.
type Matcher interface {
	Match(a, b *frame.Frame, forceWholeImage bool) align.Result
}
