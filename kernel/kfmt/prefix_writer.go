package kfmt

import "io"

// PrefixWriter is an io.Writer that injects a prefix at the beginning of each
// line. A PrefixWriter with a nil Sink writes to the current output sink;
// declaring one as a package-level variable gives a subsystem a tagged log
// that Fprintf can use before any allocator exists:
//
//	var log = kfmt.PrefixWriter{Prefix: []byte("[gdt] ")}
//
//	kfmt.Fprintf(&log, "installed %d descriptors\n", n)
type PrefixWriter struct {
	// Sink receives all writes. If nil, the current output sink is used.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	bytesAfterPrefix int
}

func (w *PrefixWriter) sink() io.Writer {
	if w.Sink != nil {
		return w.Sink
	}

	return GetOutputSink()
}

// Write writes len(p) bytes from p to the sink and returns back the number of
// bytes written. The injected prefix is not included in the number of written
// bytes returned by this method.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		sink                 = w.sink()
		written              int
		startIndex, curIndex int
	)

	if w.bytesAfterPrefix == 0 && len(p) != 0 {
		sink.Write(w.Prefix)
	}

	for ; curIndex < len(p); curIndex++ {
		if p[curIndex] != '\n' {
			continue
		}

		n, err := sink.Write(p[startIndex : curIndex+1])
		written += n
		if err != nil {
			return written, err
		}

		if curIndex+1 != len(p) {
			sink.Write(w.Prefix)
		}
		w.bytesAfterPrefix = 0
		startIndex = curIndex + 1
	}

	if startIndex < curIndex {
		n, err := sink.Write(p[startIndex:curIndex])
		written += n
		w.bytesAfterPrefix += n
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
