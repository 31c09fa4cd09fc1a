package download

import (
	"strconv"
	"strings"

	"github.com/tidestore/tidestore/pkg/errs"
)

// ParseRange parses a single HTTP Range header against a resource of size
// bytes and returns the inclusive byte interval to serve.
//
// Accepted forms: "bytes=a-b", "bytes=a-" (to end), "bytes=-n" (last n
// bytes). Rejected: missing bytes= prefix, multiple ranges, a > b, b >= size,
// and both bounds absent.
func ParseRange(header string, size int64) (start, end int64, err error) {
	invalid := func(msg string) (int64, int64, error) {
		return 0, 0, errs.New(errs.CodeInvalidRange, msg).With("size", size)
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return invalid("range unit must be bytes")
	}
	if strings.Contains(spec, ",") {
		return invalid("multiple ranges are not supported")
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return invalid("malformed range")
	}

	switch {
	case first == "" && last == "":
		return invalid("range has no bounds")

	case first == "":
		// Suffix: last n bytes
		n, perr := strconv.ParseInt(last, 10, 64)
		if perr != nil || n <= 0 {
			return invalid("malformed suffix length")
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		return start, size - 1, nil

	case last == "":
		start, perr := strconv.ParseInt(first, 10, 64)
		if perr != nil || start < 0 {
			return invalid("malformed range start")
		}
		if start >= size {
			return invalid("range start beyond end of file")
		}
		return start, size - 1, nil

	default:
		start, perr := strconv.ParseInt(first, 10, 64)
		if perr != nil || start < 0 {
			return invalid("malformed range start")
		}
		end, perr := strconv.ParseInt(last, 10, 64)
		if perr != nil {
			return invalid("malformed range end")
		}
		if start > end {
			return invalid("range start after range end")
		}
		if end >= size {
			return invalid("range end beyond end of file")
		}
		return start, end, nil
	}
}
