package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errStopSSE = errors.New("provider: stop sse")

// readSSE decodes a server-sent-event stream into per-event payloads.
//
// Two framings are tolerated against the same parser state: standard
// blocks of data: lines terminated by a blank line, and bare data: lines
// from servers that never emit blank-line delimiters. A buffered block is
// dispatched early as soon as its joined payload forms complete JSON, so
// line-delimited streams do not stall waiting for a delimiter that never
// comes, while multi-line blocks keep accumulating until the blank line.
// A literal [DONE] payload ends the stream without dispatch.
func readSSE(reader io.Reader, onData func([]byte) error) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var dataLines [][]byte
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		payload := bytes.Join(dataLines, []byte("\n"))
		dataLines = dataLines[:0]
		chunk := strings.TrimSpace(string(payload))
		if chunk == "" {
			return nil
		}
		if chunk == "[DONE]" {
			return errStopSSE
		}
		return onData([]byte(chunk))
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				if errors.Is(err, errStopSSE) {
					return nil
				}
				return err
			}
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		dataLines = append(dataLines, []byte(data))
		if data == "[DONE]" || json.Valid(bytes.Join(dataLines, []byte("\n"))) {
			if err := flush(); err != nil {
				if errors.Is(err, errStopSSE) {
					return nil
				}
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("provider: sse scanner: %w", err)
	}
	if err := flush(); err != nil && !errors.Is(err, errStopSSE) {
		return err
	}
	return nil
}
