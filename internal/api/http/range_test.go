package apihttp

import (
	"errors"
	"testing"
)

func TestParseByteRange(t *testing.T) {
	cases := []struct {
		name  string
		value string
		size  int64
		start int64
		end   int64
		err   error
	}{
		{name: "bounded", value: "bytes=0-99", size: 1000, start: 0, end: 99},
		{name: "single byte", value: "bytes=0-0", size: 1000, start: 0, end: 0},
		{name: "open ended", value: "bytes=500-", size: 1000, start: 500, end: 999},
		{name: "suffix", value: "bytes=-100", size: 1000, start: 900, end: 999},
		{name: "suffix larger than file", value: "bytes=-5000", size: 1000, start: 0, end: 999},
		{name: "end clamped to size", value: "bytes=100-5000", size: 1000, start: 100, end: 999},
		{name: "whitespace tolerated", value: " bytes=0-99 ", size: 1000, start: 0, end: 99},
		{name: "start at size", value: "bytes=1000-", size: 1000, err: errRangeNotSatisfiable},
		{name: "start past size", value: "bytes=2000-2100", size: 1000, err: errRangeNotSatisfiable},
		{name: "empty file", value: "bytes=0-99", size: 0, err: errRangeNotSatisfiable},
		{name: "wrong unit", value: "items=0-99", size: 1000, err: errInvalidRange},
		{name: "missing spec", value: "bytes=", size: 1000, err: errInvalidRange},
		{name: "bare dash", value: "bytes=-", size: 1000, err: errInvalidRange},
		{name: "not a number", value: "bytes=a-b", size: 1000, err: errInvalidRange},
		{name: "negative start", value: "bytes=-1-5", size: 1000, err: errInvalidRange},
		{name: "end before start", value: "bytes=100-50", size: 1000, err: errInvalidRange},
		{name: "multiple ranges use first segment", value: "bytes=0-1,5-9", size: 1000, start: 0, end: 1},
		{name: "multiple ranges with spaces", value: "bytes=200-299 , 500-", size: 1000, start: 200, end: 299},
		{name: "leading comma", value: "bytes=,5-9", size: 1000, err: errInvalidRange},
		{name: "zero suffix", value: "bytes=-0", size: 1000, err: errInvalidRange},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, err := parseByteRange(tc.value, tc.size)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("err = %v, want %v", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if start != tc.start || end != tc.end {
				t.Fatalf("range = %d-%d, want %d-%d", start, end, tc.start, tc.end)
			}
		})
	}
}
