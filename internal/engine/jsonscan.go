package engine

import (
	"bytes"
	"encoding/json"
)

// ParseStatus describes what a tolerant scan found in engine stdout.
type ParseStatus int

const (
	// ParseObject means the whole stream is one valid JSON object.
	ParseObject ParseStatus = iota
	// ParseFragment means a valid object was recovered from a stream
	// that also carried garbage or concatenated fragments.
	ParseFragment
	// ParseNone means no well-formed object exists in the stream.
	ParseNone
)

// ParseResult carries the raw bytes of the recovered object, if any.
type ParseResult struct {
	Status ParseStatus
	Raw    []byte
}

// LastJSONObject treats data as an untrusted byte stream and returns
// the last syntactically valid top-level JSON object in it. Engine
// crashes can interleave warnings with one or more JSON fragments on
// stdout; the final fragment is the authoritative one.
func LastJSONObject(data []byte) ParseResult {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ParseResult{Status: ParseNone}
	}

	if trimmed[0] == '{' && json.Valid(trimmed) {
		return ParseResult{Status: ParseObject, Raw: trimmed}
	}

	var last []byte
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, b := range trimmed {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := trimmed[start : i+1]
				if json.Valid(candidate) {
					last = candidate
				}
				start = -1
			}
		}
	}

	if last == nil {
		return ParseResult{Status: ParseNone}
	}
	return ParseResult{Status: ParseFragment, Raw: last}
}
