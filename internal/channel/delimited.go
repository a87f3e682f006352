package channel

import "strings"

// ParseDelimitedBlocks splits text on startTag/endTag-wrapped blocks of
// "Key: value" lines, the content-extraction format shared by every
// polling adapter (external scripting layers cannot return structured
// data, only text). Blocks without a matching end tag are skipped;
// parsers built on this tolerate missing optional fields by simply not
// setting keys absent from a block.
func ParseDelimitedBlocks(text, startTag, endTag string) []map[string]string {
	var blocks []map[string]string
	for _, raw := range strings.Split(text, startTag) {
		block := strings.TrimSpace(raw)
		if block == "" || !strings.Contains(block, endTag) {
			continue
		}
		block = strings.ReplaceAll(block, endTag, "")
		fields := make(map[string]string)
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			key, val, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			fields[strings.TrimSpace(key)] = strings.TrimSpace(val)
		}
		blocks = append(blocks, fields)
	}
	return blocks
}

// FormatDelimitedBlock renders one "Key: value" block wrapped in
// startTag/endTag, in the field order given, skipping empty values.
func FormatDelimitedBlock(startTag, endTag string, fields [][2]string) string {
	var b strings.Builder
	b.WriteString(startTag)
	b.WriteString("\n")
	for _, kv := range fields {
		if kv[1] == "" {
			continue
		}
		b.WriteString(kv[0])
		b.WriteString(": ")
		b.WriteString(kv[1])
		b.WriteString("\n")
	}
	b.WriteString(endTag)
	return b.String()
}
