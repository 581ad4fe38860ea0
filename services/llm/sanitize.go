// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "strings"

const (
	openThink  = "<think>"
	closeThink = "</think>"
)

// StripReasoning removes every paired reasoning block, delimiters included,
// and trims surrounding whitespace. Text between blocks is kept as-is, so
// "A<think>secret</think>B" becomes "AB". Nested blocks are removed
// innermost first, so no part of an outer block survives. An opening tag
// without a closing tag, or a stray closing tag, is left untouched.
func StripReasoning(text string) string {
	from := 0
	for {
		end := strings.Index(text[from:], closeThink)
		if end < 0 {
			break
		}
		end += from
		start := strings.LastIndex(text[:end], openThink)
		if start < 0 {
			from = end + len(closeThink)
			continue
		}
		text = text[:start] + text[end+len(closeThink):]
	}
	return strings.TrimSpace(text)
}
