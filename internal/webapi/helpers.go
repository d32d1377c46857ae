package webapi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// jsCall renders a call to a global JS function with JSON-encoded
// arguments, which are valid JS literals.
func jsCall(fn string, args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			b = []byte("undefined")
		}
		parts[i] = string(b)
	}
	return fmt.Sprintf("globalThis.%s(%s)", fn, strings.Join(parts, ", "))
}
