package api

import (
	"bytes"
	"strings"
)

// splitSSEChunks extracts each event's JSON payload from a buffered
// text/event-stream body ("data: {...}\n\n" blocks). A body with no SSE
// framing at all is treated as a single chunk, so the same helper serves
// both forced-stream and plain JSON upstream replies.
func splitSSEChunks(body []byte) [][]byte {
	blocks := bytes.Split(body, []byte("\n\n"))
	var chunks [][]byte
	for _, block := range blocks {
		var lines []string
		for _, line := range strings.Split(string(block), "\n") {
			line = strings.TrimPrefix(line, "data:")
			line = strings.TrimSpace(line)
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			chunks = append(chunks, []byte(strings.Join(lines, "\n")))
		}
	}
	if len(chunks) == 0 {
		return [][]byte{body}
	}
	return chunks
}
