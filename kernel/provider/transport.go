package provider

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// Non-2xx bodies are drained up to this ceiling looking for a structured
// error message.
const maxErrorDrainBytes = 1_000_000

// secureURL admits https everywhere and plain http for loopback hosts
// only (local test servers). Anything else fails before a socket opens.
func secureURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("provider: parse url %q: %w", raw, err)
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		host := parsed.Hostname()
		if host == "localhost" {
			return nil
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return nil
		}
	}
	return fmt.Errorf("provider: %q: %w", raw, ErrInsecureEndpoint)
}

// filePart is the single binary part of a multipart upload.
type filePart struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// field is one ordered key/value text field.
type field struct {
	Name, Value string
}

// buildMultipartBody encodes text fields in order followed by one file
// part, under a freshly generated boundary.
func buildMultipartBody(fields []field, part filePart) ([]byte, string, error) {
	if len(part.Data) == 0 {
		return nil, "", fmt.Errorf("provider: file part %q: %w", part.Field, ErrEmptyPayload)
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := writer.WriteField(f.Name, f.Value); err != nil {
			return nil, "", fmt.Errorf("provider: write field %q: %w", f.Name, err)
		}
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, part.Field, part.Filename))
	header.Set("Content-Type", part.ContentType)
	w, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := w.Write(part.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func statusError(resp *http.Response) error {
	if resp == nil {
		return fmt.Errorf("provider: empty http response")
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDrainBytes))
	message := ""
	if msg, err := extractErrorMessage(raw); err == nil {
		message = msg
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(message)}
}
