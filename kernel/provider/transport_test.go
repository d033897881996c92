package provider

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"
)

func TestSecureURL(t *testing.T) {
	allowed := []string{
		"https://api.openai.com/v1/responses",
		"http://127.0.0.1:8080/responses",
		"http://[::1]:9999/x",
		"http://localhost/v1/models",
	}
	for _, raw := range allowed {
		if err := secureURL(raw); err != nil {
			t.Fatalf("expected %q to be allowed: %v", raw, err)
		}
	}
	rejected := []string{
		"http://api.openai.com/v1/responses",
		"ftp://files.example.com/x",
		"ws://example.com/socket",
	}
	for _, raw := range rejected {
		if err := secureURL(raw); !errors.Is(err, ErrInsecureEndpoint) {
			t.Fatalf("expected ErrInsecureEndpoint for %q, got %v", raw, err)
		}
	}
}

func TestBuildMultipartBody_OrderedFields(t *testing.T) {
	body, contentType, err := buildMultipartBody(
		[]field{{Name: "model", Value: "whisper-1"}, {Name: "response_format", Value: "json"}},
		filePart{Field: "file", Filename: "audio.m4a", ContentType: "audio/m4a", Data: []byte("bytes")},
	)
	if err != nil {
		t.Fatal(err)
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("unexpected content type %q: %v", contentType, err)
	}
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	wantOrder := []string{"model", "response_format", "file"}
	for _, want := range wantOrder {
		part, err := reader.NextPart()
		if err != nil {
			t.Fatalf("missing part %q: %v", want, err)
		}
		if part.FormName() != want {
			t.Fatalf("expected part %q, got %q", want, part.FormName())
		}
		if want == "file" {
			if part.Header.Get("Content-Type") != "audio/m4a" {
				t.Fatalf("unexpected file content type: %q", part.Header.Get("Content-Type"))
			}
			data, _ := io.ReadAll(part)
			if string(data) != "bytes" {
				t.Fatalf("unexpected file payload: %q", data)
			}
		}
	}
}

func TestBuildMultipartBody_EmptyFilePayload(t *testing.T) {
	_, _, err := buildMultipartBody(nil, filePart{Field: "file", Filename: "audio.m4a", ContentType: "audio/m4a"})
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestBuildMultipartBody_FreshBoundaries(t *testing.T) {
	part := filePart{Field: "file", Filename: "a", ContentType: "application/octet-stream", Data: []byte("x")}
	_, first, err := buildMultipartBody(nil, part)
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := buildMultipartBody(nil, part)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(first) == "" || first == second {
		t.Fatalf("expected distinct random boundaries, got %q and %q", first, second)
	}
}
