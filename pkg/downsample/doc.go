/*
Package downsample implements the multi-resolution min/max hierarchy for raw series.

# Why Downsample?

A bedside monitor sampling at 250 Hz produces 21.6 million points per day. A
browser can draw a few thousand. Downsampling summarizes fixed time slices so
any zoom window can be served with roughly M points:

	Raw (21.6M points)        → exact values, only for close-up views
	Finest level (M×step^N-1) → min/max per slice, fine zoom
	...
	Coarsest level (M)        → min/max per slice, whole recording

# Levels

Levels are indexed from the coarsest (0, M intervals) to the finest (N-1,
M×step^(N-1) intervals). The finest level is built from raw data in one pass;
each coarser level merges step consecutive slices of the level below it:

	┌───────────────────────────────────────────────────────────┐
	│ Raw points                                                │
	│ • strictly ascending time, NaN removed                    │
	└───────────────────────────────────────────────────────────┘
	                      ↓ BuildFromRaw
	┌───────────────────────────────────────────────────────────┐
	│ Level N-1 (finest)                                        │
	│ • one Interval per non-empty slice                        │
	└───────────────────────────────────────────────────────────┘
	                      ↓ BuildNextLevelUp (merge step slices)
	┌───────────────────────────────────────────────────────────┐
	│ Level 0 (coarsest, M slices)                              │
	└───────────────────────────────────────────────────────────┘

# Interval Structure

Each Interval keeps:
  - Time: slice midpoint (left edge + tpi/2), not the mean of point times
  - Min, Max: bounds of every point in the slice
  - Count: points summarized

Midpoint times keep levels aligned on one grid, so a coarse slice always
covers exactly the fine slices it was merged from.

# Atomic Builds

Levels are written under a fresh build directory, then a manifest naming
that directory is written in a single WriteMeta call:

	<prefix>/manifest              ← readers start here
	<prefix>/build-<uuid>/0        ← coarsest level
	<prefix>/build-<uuid>/N-1      ← finest level

Readers only follow the manifest. A build directory no manifest points at is
a partial artifact from an interrupted build; it is invisible to readers and
removed by Cleanup before the next build.

# Level Selection

For a window [start, stop], the required time-per-interval is (stop-start)/M.
The coarsest level that still meets it is served. When even the finest level
is more than RawFallbackRatio times too coarse, callers get ok=false and
should serve raw points instead.

# Usage Example

	h := downsample.NewHierarchy(store, "vitals/hr", downsample.Options{
	    IntervalCount:  3000,
	    StepMultiplier: 4,
	})

	levels, err := h.Build(ctx, times, values)
	...
	intervals, ok, err := h.RangedOutput(ctx, start, stop)
	if !ok {
	    // serve raw
	}
*/
package downsample
