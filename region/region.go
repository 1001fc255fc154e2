// Package region compresses ordered lists of linear buffer indices into a
// compact strided representation used by the halo pack/unpack engines.
package region

// Region describes a rectangular gather/scatter pattern over a flat buffer:
// cols contiguous elements starting at Start, repeated Rows times, each
// repetition offset by RowStride elements from the previous one.
type Region struct {
	Start     int
	Cols      int
	Rows      int
	RowStride int
}

// ElementCount returns the number of elements this region covers.
func (r Region) ElementCount() int {
	return r.Cols * r.Rows
}

// Expand returns the ordered list of indices this region covers, in the same
// order a gather over it would visit them.
func (r Region) Expand() []int {
	out := make([]int, 0, r.ElementCount())
	for row := 0; row < r.Rows; row++ {
		base := r.Start + row*r.RowStride
		for c := 0; c < r.Cols; c++ {
			out = append(out, base+c)
		}
	}
	return out
}

type fragment struct {
	start  int
	length int
}

// Compress converts a finite ordered sequence of nonnegative indices into an
// ordered list of Regions whose expansion reproduces the input exactly.
// Duplicates in the input are preserved verbatim by the run-detection pass
// (they simply break the "differ by 1" run condition) but are otherwise
// meaningless to callers, matching the historical extractHaloIndicesWithStride
// contract this algorithm is derived from.
func Compress(indices []int) []Region {
	fragments := detectRuns(indices)
	return coalesceRows(fragments)
}

// detectRuns groups maximal runs of indices that differ by exactly 1 into
// (start, length) fragments.
func detectRuns(indices []int) []fragment {
	if len(indices) == 0 {
		return nil
	}
	frags := make([]fragment, 0, len(indices))
	runStart := indices[0]
	runLen := 1
	for i := 1; i < len(indices); i++ {
		if indices[i] == indices[i-1]+1 {
			runLen++
			continue
		}
		frags = append(frags, fragment{start: runStart, length: runLen})
		runStart = indices[i]
		runLen = 1
	}
	frags = append(frags, fragment{start: runStart, length: runLen})
	return frags
}

// coalesceRows walks the run fragments and merges consecutive same-length
// fragments into a single Region when they form a constant-stride sequence
// of rows.
func coalesceRows(frags []fragment) []Region {
	if len(frags) == 0 {
		return nil
	}

	regions := make([]Region, 0, len(frags))
	open := Region{
		Start:     frags[0].start,
		Cols:      frags[0].length,
		Rows:      1,
		RowStride: 0,
	}

	for i := 1; i < len(frags); i++ {
		f := frags[i]
		if f.length == open.Cols && rowFits(open, f.start) {
			if open.Rows == 1 {
				open.RowStride = f.start - open.Start
			}
			open.Rows++
			continue
		}
		regions = append(regions, open)
		open = Region{Start: f.start, Cols: f.length, Rows: 1, RowStride: 0}
	}
	regions = append(regions, open)
	return regions
}

// rowFits reports whether a fragment starting at nextStart continues the
// constant-stride row sequence of the currently open region.
func rowFits(open Region, nextStart int) bool {
	if open.Rows == 1 {
		return true
	}
	expected := open.Start + open.Rows*open.RowStride
	return nextStart == expected
}
