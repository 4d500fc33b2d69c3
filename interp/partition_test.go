package interp

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func readAll(t *testing.T, pt *partitioner) (records, seps []string) {
	t.Helper()
	for {
		record, err := pt.readRecord()
		if err == io.EOF {
			return records, seps
		}
		if err != nil {
			t.Fatalf("readRecord error: %s", err)
		}
		records = append(records, record)
		seps = append(seps, pt.lastSep)
	}
}

func TestPartitionLaw(t *testing.T) {
	// Concatenating records and matched separators reconstructs the
	// original input bytes.
	tests := []struct {
		rs    string
		input string
	}{
		{"\n", "aaa\nbb\nc"},
		{"\n", "aaa\nbb\nc\n"},
		{"\n", "\n\na\n"},
		{";", "a;b;c"},
		{"ab*c", "XabcYabbcZ"},
		{"x+", "1xx2xxx3"},
	}
	for _, test := range tests {
		pt, err := newPartitioner(strings.NewReader(test.input), test.rs, false, false)
		if err != nil {
			t.Fatal(err)
		}
		records, seps := readAll(t, pt)
		var sb strings.Builder
		for i, record := range records {
			sb.WriteString(record)
			sb.WriteString(seps[i])
		}
		if sb.String() != test.input {
			t.Errorf("rs=%q input=%q: reconstruction %q", test.rs, test.input, sb.String())
		}
	}
}

func TestRegexRecordSeparator(t *testing.T) {
	pt, err := newPartitioner(strings.NewReader("XabcYabbcZ"), "ab*c", false, false)
	if err != nil {
		t.Fatal(err)
	}
	records, _ := readAll(t, pt)
	if strings.Join(records, ",") != "X,Y,Z" {
		t.Errorf("expected X,Y,Z, got %v", records)
	}
}

func TestLiteralFastPath(t *testing.T) {
	for _, rs := range []string{"\n", "\r\n", "\r"} {
		input := "a" + rs + "b" + rs + "c"
		pt, err := newPartitioner(strings.NewReader(input), rs, false, false)
		if err != nil {
			t.Fatal(err)
		}
		records, _ := readAll(t, pt)
		if strings.Join(records, ",") != "a,b,c" {
			t.Errorf("rs=%q: expected a,b,c, got %v", rs, records)
		}
	}
}

func TestParagraphMode(t *testing.T) {
	// Empty RS consumes the entire remaining input as one record at
	// EOF (the observed behaviour of the `(?sm)\z` pattern).
	input := "a\nb\n\nc\n"
	pt, err := newPartitioner(strings.NewReader(input), "", false, false)
	if err != nil {
		t.Fatal(err)
	}
	records, _ := readAll(t, pt)
	if len(records) != 1 || records[0] != input {
		t.Errorf("expected one whole-input record, got %v", records)
	}
}

func TestTrailingSeparator(t *testing.T) {
	pt, err := newPartitioner(strings.NewReader("a\nb\n"), "\n", false, false)
	if err != nil {
		t.Fatal(err)
	}
	records, _ := readAll(t, pt)
	// No empty final record after a trailing separator
	if strings.Join(records, ",") != "a,b" {
		t.Errorf("expected a,b, got %v", records)
	}
}

func TestGreedyRecordSeparator(t *testing.T) {
	// With an ambiguous RS like "ab?" and input arriving one byte at
	// a time, a non-greedy partitioner can match "a" at a buffer
	// boundary and split too early; greedy mode reads ahead while
	// the match abuts the buffer end, so chunked input produces the
	// same records as a single buffer.
	const input = "XabY"
	const rs = "ab?"

	full, err := newPartitioner(strings.NewReader(input), rs, false, false)
	if err != nil {
		t.Fatal(err)
	}
	fullRecords, _ := readAll(t, full)
	if strings.Join(fullRecords, ",") != "X,Y" {
		t.Fatalf("full-buffer records: expected X,Y, got %v", fullRecords)
	}

	greedy, err := newPartitioner(iotest.OneByteReader(strings.NewReader(input)), rs, true, false)
	if err != nil {
		t.Fatal(err)
	}
	greedyRecords, _ := readAll(t, greedy)
	if strings.Join(greedyRecords, ",") != strings.Join(fullRecords, ",") {
		t.Errorf("greedy chunked records %v differ from full-buffer records %v",
			greedyRecords, fullRecords)
	}
}

func TestChangeRecordSeparator(t *testing.T) {
	pt, err := newPartitioner(strings.NewReader("a\nb;c"), "\n", false, false)
	if err != nil {
		t.Fatal(err)
	}
	record, err := pt.readRecord()
	if err != nil || record != "a" {
		t.Fatalf("expected a, got %q (%v)", record, err)
	}
	err = pt.setRecordSeparator(";")
	if err != nil {
		t.Fatal(err)
	}
	records, _ := readAll(t, pt)
	if strings.Join(records, ",") != "b,c" {
		t.Errorf("expected b,c after separator change, got %v", records)
	}
}

func TestInvalidRecordSeparator(t *testing.T) {
	_, err := newPartitioner(strings.NewReader("x"), "(unclosed", false, false)
	if err == nil {
		t.Errorf("expected error for invalid RS regex")
	}
}
