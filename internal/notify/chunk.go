package notify

import "unicode/utf8"

// DefaultBLEName is the advertised local name.
const DefaultBLEName = "SafePi"

// bleChunk is the notification payload that fits the default ATT MTU.
const bleChunk = 20

// chunkUTF8 splits s into pieces of at most n bytes without cutting a rune.
func chunkUTF8(s string, n int) []string {
	var out []string
	for len(s) > n {
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(s)
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
