package buffer

import "unicode/utf8"

// SplitPartialRune splits p before a trailing UTF-8 sequence that is
// valid so far but not complete. tail is empty when p ends on a rune
// boundary or in bytes that can never become valid.
func SplitPartialRune(p []byte) (head, tail []byte) {
	for i := len(p) - 1; i >= 0 && i >= len(p)-(utf8.UTFMax-1); i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return p[:i], p[i:]
			}
			break
		}
	}
	return p, nil
}

// TrimPartialRune drops continuation bytes left at the front of p when a
// bounded buffer cut a rune in half.
func TrimPartialRune(p []byte) []byte {
	i := 0
	for i < len(p) && i < utf8.UTFMax-1 && !utf8.RuneStart(p[i]) {
		i++
	}
	return p[i:]
}
