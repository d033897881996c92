package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The remote service issues continuation tokens with a fixed prefix; other
// id-shaped values in event payloads are ignored.
const continuationTokenPrefix = "resp_"

// extractErrorMessage pulls the most specific error text available:
// error.message, then a rendering of the whole error object, then the
// whole payload.
func extractErrorMessage(raw []byte) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "", ErrNoDataFound
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return trimmed, nil
	}
	errVal, ok := obj["error"]
	if !ok {
		return trimmed, nil
	}
	if errObj, ok := errVal.(map[string]any); ok {
		if msg, ok := errObj["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg), nil
		}
	}
	rendered, marshalErr := json.Marshal(errVal)
	if marshalErr != nil || len(rendered) == 0 {
		return trimmed, nil
	}
	return string(rendered), nil
}

// extractOutputText reads the full answer text from a response body:
// a top-level output_text string, else every text/output_text string under
// output[].content[], joined by newline.
func extractOutputText(raw []byte) (string, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return "", err
	}
	if text, ok := obj["output_text"].(string); ok && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text), nil
	}
	parts := []string{}
	output, _ := obj["output"].([]any)
	for _, item := range output {
		itemObj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := itemObj["content"].([]any)
		for _, part := range content {
			partObj, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := partObj["text"].(string); ok && text != "" {
				parts = append(parts, text)
				continue
			}
			if text, ok := partObj["output_text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
	}
	joined := strings.TrimSpace(strings.Join(parts, "\n"))
	if joined == "" {
		return "", ErrNoDataFound
	}
	return joined, nil
}

// extractDeltaText reads an incremental text fragment from one stream
// event. An unrecognized event shape yields "" without error; an in-band
// error object always wins, even when a delta-shaped field is present.
func extractDeltaText(raw []byte) (string, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return "", err
	}
	if _, ok := obj["error"]; ok {
		msg, msgErr := extractErrorMessage(raw)
		if msgErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return "", &StreamError{Message: msg}
	}
	eventType, _ := obj["type"].(string)
	if strings.Contains(eventType, "output_text.delta") {
		if delta, ok := obj["delta"].(string); ok {
			return delta, nil
		}
	}
	if strings.Contains(eventType, "response.delta") {
		if delta := nestedDelta(obj["delta"]); delta != "" {
			return delta, nil
		}
	}
	switch delta := obj["delta"].(type) {
	case string:
		return delta, nil
	case map[string]any:
		return nestedDelta(delta), nil
	}
	return "", nil
}

func nestedDelta(value any) string {
	obj, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	if text, ok := obj["output_text"].(string); ok && text != "" {
		return text
	}
	if text, ok := obj["text"].(string); ok {
		return text
	}
	return ""
}

// extractContinuationToken finds the token to chain the next turn:
// response.id, then id, then response_id. Empty when nothing matching the
// token prefix convention is present.
func extractContinuationToken(raw []byte) string {
	obj, err := decodeObject(raw)
	if err != nil {
		return ""
	}
	if response, ok := obj["response"].(map[string]any); ok {
		if token := tokenValue(response["id"]); token != "" {
			return token
		}
	}
	if token := tokenValue(obj["id"]); token != "" {
		return token
	}
	return tokenValue(obj["response_id"])
}

func tokenValue(value any) string {
	token, ok := value.(string)
	if !ok || !strings.HasPrefix(token, continuationTokenPrefix) {
		return ""
	}
	return token
}

func decodeObject(raw []byte) (map[string]any, error) {
	obj := map[string]any{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("provider: parse payload: %w", err)
	}
	return obj, nil
}
