package deployment

import "fmt"

// =============================================================================
// Build Output Evaluation
// =============================================================================

// BundleVerdict is the judgement on a build output directory.
type BundleVerdict struct {
	Empty    bool
	Oversize bool
	Message  string
}

// EvaluateBundle judges an output directory holding files artifacts totalling
// size bytes. maxSize <= 0 disables the size check.
func EvaluateBundle(files int, size, maxSize int64) BundleVerdict {
	if files == 0 {
		return BundleVerdict{Empty: true, Message: "build output directory contains no artifacts"}
	}
	if maxSize > 0 && size > maxSize {
		return BundleVerdict{
			Oversize: true,
			Message: fmt.Sprintf("build output is %s, exceeding the %s limit",
				FormatBytes(size), FormatBytes(maxSize)),
		}
	}
	return BundleVerdict{Message: fmt.Sprintf("build output: %d file(s), %s", files, FormatBytes(size))}
}

// FormatBytes renders n with a binary unit.
//
// Example:
//
//	FormatBytes(1536) // returns "1.5 KiB"
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
