package interp

// The record partitioner consumes one record at a time from an
// underlying reader, treating the record separator (RS) as a regular
// expression matched against a growable buffer of not-yet-returned
// input.
//
// By default greedy regex matching for RS is off: it's assumed RS is
// a non-ambiguous regex. For example, ab*c is non-ambiguous, but
// ab?c?b can match either "ab" or "abc" depending on where buffer
// boundaries land. With greedy matching on, whenever a match ends
// exactly at the buffer end the partitioner reads one more character
// at a time and re-matches, until the match moves away from the
// buffer end or input runs out. That behaviour isn't desirable for
// interactive input, which is why it's opt-in (the
// JAWK_FORCE_GREEDY_RS environment variable or the
// GreedyRecordSeparator configuration field).

import (
	"io"
	"regexp"
)

const partitionReadSize = 4096

type partitioner struct {
	reader io.Reader

	recordSep  string
	rs         *regexp.Regexp
	consumeAll bool // empty RS: consume all remaining input at EOF
	greedy     bool

	remaining []byte
	readBuf   []byte
	eof       bool

	// lastSep is the separator text matched by the last readRecord
	// ("" for the final record of the input).
	lastSep string

	// fromFilenameList tells whether the underlying reader is a file
	// from the filename-list arguments (rather than stdin or a
	// getline source).
	fromFilenameList bool
}

func newPartitioner(r io.Reader, recordSep string, greedy, fromFilenameList bool) (*partitioner, error) {
	pt := &partitioner{
		reader:           r,
		greedy:           greedy,
		readBuf:          make([]byte, partitionReadSize),
		fromFilenameList: fromFilenameList,
	}
	err := pt.setRecordSeparator(recordSep)
	if err != nil {
		return nil, err
	}
	return pt, nil
}

// setRecordSeparator assigns a new record separator, compiling it as
// needed. The empty separator enables paragraph mode, which in this
// implementation consumes the entire remaining input as one record
// at EOF (the exact pattern used is `(?sm)\z`, not the POSIX
// blank-line separator). The common line separators compile as
// literal patterns; anything else compiles as a regex with DOTALL
// and MULTILINE semantics.
func (pt *partitioner) setRecordSeparator(recordSep string) error {
	if recordSep == pt.recordSep && pt.rs != nil {
		return nil
	}
	switch recordSep {
	case "":
		pt.consumeAll = true
		pt.rs = regexp.MustCompile(`(?sm)\z`)
	case "\n", "\r\n", "\r":
		pt.consumeAll = false
		pt.rs = regexp.MustCompile(regexp.QuoteMeta(recordSep))
	default:
		pt.consumeAll = false
		re, err := regexp.Compile("(?sm)" + recordSep)
		if err != nil {
			return newError("invalid record separator %q: %s", recordSep, err)
		}
		pt.rs = re
	}
	pt.recordSep = recordSep
	return nil
}

// fill reads up to n more bytes into the remaining buffer. It
// returns false at end of input.
func (pt *partitioner) fill(n int) bool {
	if pt.eof {
		return false
	}
	buf := pt.readBuf
	if n < len(buf) {
		buf = buf[:n]
	}
	count, err := pt.reader.Read(buf)
	if count > 0 {
		pt.remaining = append(pt.remaining, buf[:count]...)
	}
	if err == io.EOF || (count == 0 && err == nil) {
		pt.eof = true
	} else if err != nil {
		pt.eof = true
	}
	return count > 0
}

// readRecord consumes one record from the reader, using the record
// separator regex to mark record boundaries. It returns io.EOF when
// no records remain.
func (pt *partitioner) readRecord() (string, error) {
	var loc []int
	for {
		if !pt.consumeAll && len(pt.remaining) > 0 {
			loc = pt.rs.FindIndex(pt.remaining)
			if loc != nil && loc[1] == 0 {
				// A separator that matches the empty string would
				// never advance; treat it as no match.
				loc = nil
			}
			if loc != nil {
				break
			}
		}
		if !pt.fill(partitionReadSize) {
			// End of input: the rest of the buffer (if any) is the
			// final record, with no trailing separator.
			if len(pt.remaining) == 0 {
				return "", io.EOF
			}
			record := string(pt.remaining)
			pt.remaining = pt.remaining[:0]
			pt.lastSep = ""
			return record, nil
		}
	}

	if pt.greedy {
		// Attempt to move the match away from the end of the buffer:
		// a match that abuts the buffer end could grow if more input
		// were available, so read one character at a time until it
		// no longer abuts the end (or input runs out).
		for loc[1] == len(pt.remaining) {
			if !pt.fill(1) {
				break
			}
			loc = pt.rs.FindIndex(pt.remaining)
			if loc == nil {
				// The longer buffer no longer matches at all; go
				// back to the normal search loop.
				return pt.readRecord()
			}
		}
	}

	record := string(pt.remaining[:loc[0]])
	pt.lastSep = string(pt.remaining[loc[0]:loc[1]])
	pt.remaining = pt.remaining[loc[1]:]
	return record, nil
}
