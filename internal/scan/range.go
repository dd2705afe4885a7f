package scan

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// SplitRange splits a block range into contiguous windows of at most windowSize blocks.
func SplitRange(from, to, windowSize uint64) ([]BlockRange, error) {
	if windowSize == 0 {
		return nil, fmt.Errorf("window size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/windowSize+1)
	start := from
	for {
		end := to
		if to-start >= windowSize {
			end = start + windowSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}

// Batches groups windows into consecutive batches of at most size windows.
func Batches(windows []BlockRange, size int) [][]BlockRange {
	if size <= 0 {
		size = 1
	}
	out := make([][]BlockRange, 0, (len(windows)+size-1)/size)
	for start := 0; start < len(windows); start += size {
		end := start + size
		if end > len(windows) {
			end = len(windows)
		}
		out = append(out, windows[start:end])
	}
	return out
}
