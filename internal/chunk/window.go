package chunk

import "strings"

// Split cuts text into overlapping character windows.
//
// Window i starts at i*step with step = max(1, windowSize-overlap) and holds
// up to windowSize characters. A window is emitted for every start inside the
// text, so a text of n characters yields ceil(n/step) chunks and the trailing
// windows may be shorter than windowSize. Positions count runes, not bytes.
// Blank text yields nil.
func Split(text string, windowSize, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if overlap < 0 {
		overlap = 0
	}
	step := windowSize - overlap
	if step < 1 {
		step = 1
	}

	runes := []rune(text)
	n := len(runes)
	var chunks []string
	for start := 0; start < n; start += step {
		end := start + windowSize
		if end > n {
			end = n
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Join reverses Split: it concatenates windows produced with the same
// windowSize and overlap, dropping the overlapped prefix of each window
// after the first. Trailing windows that fall entirely inside the previous
// window contribute nothing.
func Join(windows []string, windowSize, overlap int) string {
	if len(windows) == 0 {
		return ""
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if overlap < 0 {
		overlap = 0
	}
	step := windowSize - overlap
	if step < 1 {
		step = 1
	}
	shared := windowSize - step

	var b strings.Builder
	b.WriteString(windows[0])
	for _, w := range windows[1:] {
		runes := []rune(w)
		if shared < len(runes) {
			b.WriteString(string(runes[shared:]))
		}
	}
	return b.String()
}
