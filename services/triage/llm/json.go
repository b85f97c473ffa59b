// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a response contains no parseable JSON object.
var ErrNoJSON = errors.New("llm: no JSON object in response")

// ExtractJSONObject locates the first balanced JSON object in a model
// response and unmarshals it into out. It tolerates markdown code
// fences and surrounding prose, which chat models add even when asked
// for bare JSON.
func ExtractJSONObject(raw string, out any) error {
	candidate := stripFences(raw)

	start := strings.IndexByte(candidate, '{')
	if start < 0 {
		return ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(candidate); i++ {
		ch := candidate[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				if err := json.Unmarshal([]byte(candidate[start:i+1]), out); err != nil {
					return errors.Join(ErrNoJSON, err)
				}
				return nil
			}
		}
	}
	return ErrNoJSON
}

// stripFences removes a ```json ... ``` or ``` ... ``` wrapper if present.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
