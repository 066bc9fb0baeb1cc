package process

import "bytes"

// maxLineSize bounds a single output line. Build logs can carry very long
// store paths, so this is well above bufio's default.
const maxLineSize = 1 << 20

// scanLines is a bufio.SplitFunc that treats both '\n' and '\r' as line ends.
// Progress meters such as git's redraw the same line with carriage returns,
// and every redraw has to reach the parser as its own line.
// A "\r\n" split across reads yields one extra empty token; callers skip empty lines.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}

		return advance, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
