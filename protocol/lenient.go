package protocol

// stripTrailingCommas removes commas that directly precede a closing ']' or
// '}' outside string literals. The input is returned unchanged when there
// is nothing to remove.
func stripTrailingCommas(data []byte) []byte {
	var drops []int
	inString, escaped := false, false
	pending := -1

	for i, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			pending = -1
		case ',':
			pending = i
		case ' ', '\t', '\r', '\n':
		case ']', '}':
			if pending >= 0 {
				drops = append(drops, pending)
			}
			pending = -1
		default:
			pending = -1
		}
	}

	if len(drops) == 0 {
		return data
	}
	out := make([]byte, 0, len(data)-len(drops))
	prev := 0
	for _, d := range drops {
		out = append(out, data[prev:d]...)
		prev = d + 1
	}
	return append(out, data[prev:]...)
}
