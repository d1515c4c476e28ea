package interpreter

import (
	"strconv"
	"strings"
)

// FormatTraceback renders a compact, human-readable traceback from frames
// and an exception type/message, suitable for appending to a Node's raw
// output before it is shown to the LLM reviewer.
func FormatTraceback(excType string, excInfo map[string]interface{}, frames []Frame) string {
	if excType == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("Traceback (most recent call last):\n")
	for _, f := range frames {
		b.WriteString("  File \"")
		b.WriteString(f.File)
		b.WriteString("\", line ")
		b.WriteString(strconv.Itoa(f.Line))
		b.WriteString(", in ")
		b.WriteString(f.Func)
		b.WriteString("\n    ")
		b.WriteString(f.Text)
		b.WriteString("\n")
	}
	b.WriteString(excType)
	if msg, ok := excInfo["message"].(string); ok && msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}
