package supervisor

import (
	"errors"

	"github.com/hashicorp/go-multierror"
)

// termination is the classified outcome of one child execution.
type termination struct {
	// cancelled is true when every leaf error in the termination traces
	// back to context cancellation or deadline expiry (i.e. the
	// supervisor subtree is being torn down from above, not failing on
	// its own). A cancelled termination is never eligible for restart,
	// no matter the child's RestartStrategy.
	cancelled bool

	// err is what the monitor returns if it gives up on this child: nil
	// for a clean exit, the single offending error, or the original
	// aggregate when more than one distinguishable cancellation leaf
	// was present.
	err error
}

// classify implements the monitor's cancellation-coalescing rule. A child
// task may run its own nested task group internally (fanning out to
// grandchildren) and return their combined failure as a *multierror.Error;
// classify flattens that tree and decides whether the termination as a
// whole should be treated as a cancellation or a genuine failure:
//
//  1. nil error: normal exit, not a cancellation.
//  2. Any non-cancellation leaf present: the termination is a genuine
//     failure; the aggregate (or single error) is returned unchanged.
//  3. All leaves are cancellations and there is exactly one distinct leaf:
//     collapse to that single error.
//  4. All leaves are cancellations and there is more than one distinct
//     leaf (e.g. a grandchild timed out while a sibling observed
//     cancellation from the parent): the leaves are distinguishable, so
//     the aggregate is propagated rather than collapsed.
func classify(err error) termination {
	if err == nil {
		return termination{cancelled: false, err: nil}
	}

	leaves := flattenLeaves(err)

	for _, leaf := range leaves {
		if !isCancellation(leaf) {
			return termination{cancelled: false, err: err}
		}
	}

	distinct := distinctErrors(leaves)
	if len(distinct) <= 1 {
		return termination{cancelled: true, err: distinct[0]}
	}

	return termination{cancelled: true, err: err}
}

// flattenLeaves walks a possibly-nested *multierror.Error and returns every
// non-aggregate error it contains, in order.
func flattenLeaves(err error) []error {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return []error{err}
	}

	var leaves []error
	for _, e := range merr.Errors {
		leaves = append(leaves, flattenLeaves(e)...)
	}

	return leaves
}

// distinctErrors returns the leaves with duplicates (by Is/== identity)
// removed, preserving first-seen order.
func distinctErrors(leaves []error) []error {
	var distinct []error
	for _, l := range leaves {
		seen := false
		for _, d := range distinct {
			if errors.Is(l, d) || errors.Is(d, l) {
				seen = true
				break
			}
		}
		if !seen {
			distinct = append(distinct, l)
		}
	}

	return distinct
}
