package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OnslaughtSnail/glimpse/kernel/provider"
	"github.com/OnslaughtSnail/glimpse/kernel/thread"
	"github.com/OnslaughtSnail/glimpse/kernel/thread/inmemory"
)

func newTestManager(t *testing.T, client Client) (*Manager, *thread.Registry) {
	t.Helper()
	registry, err := thread.NewRegistry(context.Background(), inmemory.New())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = registry.Close() })
	return NewManager(registry, client), registry
}

func TestSend_StreamsIntoPlaceholderAndRecordsToken(t *testing.T) {
	client := &stubClient{turns: []scriptedTurn{{
		deltas: []string{"Hel", "lo"},
		final:  &provider.Response{Text: "Hello", ContinuationToken: "resp_1", TurnComplete: true},
	}}}
	m, registry := newTestManager(t, client)
	c, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}

	var streamed []string
	result, err := c.Send(context.Background(), SendInput{
		Text:    "Is this a good plan? Let's see what happens next.",
		OnDelta: func(delta string) { streamed = append(streamed, delta) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "Hello" {
		t.Fatalf("unexpected result text: %q", result.Text)
	}
	if strings.Join(streamed, "") != "Hello" {
		t.Fatalf("unexpected streamed deltas: %v", streamed)
	}

	snap, ok := registry.Get(c.ThreadID())
	if !ok {
		t.Fatal("snapshot missing")
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("expected user plus assistant message, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Role != thread.RoleUser || snap.Messages[1].Role != thread.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", snap.Messages)
	}
	if snap.Messages[1].Text != "Hello" {
		t.Fatalf("assistant placeholder not filled: %q", snap.Messages[1].Text)
	}
	if snap.ContinuationToken != "resp_1" {
		t.Fatalf("token not recorded: %q", snap.ContinuationToken)
	}
	if snap.Title != "Is this a good plan?" {
		t.Fatalf("title not auto-derived: %q", snap.Title)
	}
}

func TestSend_EmptyDraftWithoutImageIsNoop(t *testing.T) {
	client := &stubClient{}
	m, registry := newTestManager(t, client)
	c, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	result, err := c.Send(context.Background(), SendInput{Text: "   "})
	if err != nil || result != nil {
		t.Fatalf("expected silent no-op, got %v / %v", result, err)
	}
	snap, _ := registry.Get(c.ThreadID())
	if len(snap.Messages) != 0 {
		t.Fatalf("no-op appended messages: %+v", snap.Messages)
	}
	if len(client.recorded()) != 0 {
		t.Fatal("no-op reached the client")
	}
}

func TestSend_ImageOnlyUsesPlaceholderBubbleAndSpendsImage(t *testing.T) {
	client := &stubClient{turns: []scriptedTurn{
		{deltas: []string{"a screenshot"}, final: &provider.Response{Text: "a screenshot", ContinuationToken: "resp_1", TurnComplete: true}},
		{deltas: []string{"more"}, final: &provider.Response{Text: "more", ContinuationToken: "resp_2", TurnComplete: true}},
	}}
	m, registry := newTestManager(t, client)
	c, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Send(context.Background(), SendInput{Image: []byte("png")}); err != nil {
		t.Fatal(err)
	}
	snap, _ := registry.Get(c.ThreadID())
	if snap.Messages[0].Text != imageOnlyBubble {
		t.Fatalf("unexpected bubble text: %q", snap.Messages[0].Text)
	}
	// The image was spent; the follow-up has a token, so nothing is re-attached.
	if _, err := c.Send(context.Background(), SendInput{Text: "and now?"}); err != nil {
		t.Fatal(err)
	}
	requests := client.recorded()
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	if len(requests[0].ImagePNG) == 0 {
		t.Fatal("first request lost its image")
	}
	if len(requests[1].ImagePNG) != 0 {
		t.Fatal("spent image was re-sent despite a continuation token")
	}
	if requests[1].ContinuationToken != "resp_1" {
		t.Fatalf("follow-up did not chain: %q", requests[1].ContinuationToken)
	}
}

func TestSend_ReattachesLastImageWhenTokenMissing(t *testing.T) {
	client := &stubClient{turns: []scriptedTurn{
		// The remote never discloses a token on the first turn.
		{deltas: []string{"first"}, final: &provider.Response{Text: "first", TurnComplete: true}},
		{deltas: []string{"second"}, final: &provider.Response{Text: "second", ContinuationToken: "resp_2", TurnComplete: true}},
	}}
	m, _ := newTestManager(t, client)
	c, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Send(context.Background(), SendInput{Text: "look", Image: []byte("capture-1")}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Send(context.Background(), SendInput{Text: "still there?"}); err != nil {
		t.Fatal(err)
	}
	requests := client.recorded()
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	if string(requests[1].ImagePNG) != "capture-1" {
		t.Fatalf("expected last image re-attached, got %q", requests[1].ImagePNG)
	}
	if requests[1].ContinuationToken != "" {
		t.Fatalf("unexpected token on tokenless conversation: %q", requests[1].ContinuationToken)
	}
}

func TestSend_FailureLeavesErrorInAssistantBubble(t *testing.T) {
	client := &stubClient{turns: []scriptedTurn{{err: &provider.StatusError{Code: 401, Message: "bad key"}}}}
	m, registry := newTestManager(t, client)
	c, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	_, sendErr := c.Send(context.Background(), SendInput{Text: "hello"})
	var statusErr *provider.StatusError
	if !errors.As(sendErr, &statusErr) {
		t.Fatalf("expected StatusError, got %v", sendErr)
	}
	snap, _ := registry.Get(c.ThreadID())
	if len(snap.Messages) != 2 {
		t.Fatalf("user message must survive failure, got %d messages", len(snap.Messages))
	}
	if snap.Messages[0].Text != "hello" {
		t.Fatalf("user message altered: %q", snap.Messages[0].Text)
	}
	if !strings.HasPrefix(snap.Messages[1].Text, "Error: ") {
		t.Fatalf("assistant bubble missing error description: %q", snap.Messages[1].Text)
	}
}

func TestSend_PartialOutputPreservedOnLateFailure(t *testing.T) {
	client := &stubClient{turns: []scriptedTurn{{
		deltas: []string{"partial "},
		err:    &provider.StreamError{Message: "boom"},
	}}}
	m, registry := newTestManager(t, client)
	c, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Send(context.Background(), SendInput{Text: "go"}); err == nil {
		t.Fatal("expected stream failure")
	}
	snap, _ := registry.Get(c.ThreadID())
	text := snap.Messages[1].Text
	if !strings.HasPrefix(text, "partial ") || !strings.Contains(text, "boom") {
		t.Fatalf("expected partial output plus error, got %q", text)
	}
}

func TestSend_ConcurrentSendOnSameConversationIsRejected(t *testing.T) {
	client := &stubClient{turns: []scriptedTurn{{deltas: []string{"a", "b"}}}}
	m, _ := newTestManager(t, client)
	c, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	var busyErr error
	_, err = c.Send(context.Background(), SendInput{
		Text: "first",
		OnDelta: func(string) {
			if busyErr == nil {
				_, busyErr = c.Send(context.Background(), SendInput{Text: "second"})
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !IsConversationBusy(busyErr) {
		t.Fatalf("expected ConversationBusyError, got %v", busyErr)
	}
}

func TestManager_OpenListClear(t *testing.T) {
	client := &stubClient{}
	m, _ := newTestManager(t, client)
	if _, err := m.Open("missing"); !errors.Is(err, thread.ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
	c, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	again, err := m.Open(c.ThreadID())
	if err != nil {
		t.Fatal(err)
	}
	if again != c {
		t.Fatal("expected the live controller for an already-open thread")
	}

	entries := m.ListThreads()
	if len(entries) != 1 || !entries[0].Open {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	m.ClearHistory()
	if len(m.ListThreads()) != 1 {
		t.Fatal("open thread must survive clear history")
	}

	c.Close()
	entries = m.ListThreads()
	if len(entries) != 1 || entries[0].Open {
		t.Fatalf("expected closed thread to remain but not open: %+v", entries)
	}
	m.ClearHistory()
	if len(m.ListThreads()) != 0 {
		t.Fatal("closed thread should be cleared")
	}
}

func TestManager_SendCreatesThreadImplicitly(t *testing.T) {
	client := &stubClient{turns: []scriptedTurn{{deltas: []string{"hi"}}}}
	m, registry := newTestManager(t, client)
	result, err := m.Send(context.Background(), "", nil, "hello there", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.ThreadID == "" {
		t.Fatal("expected an implicit thread id")
	}
	if _, ok := registry.Get(result.ThreadID); !ok {
		t.Fatal("implicit thread missing from registry")
	}
}
