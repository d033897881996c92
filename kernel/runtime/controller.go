// Package runtime sequences conversation turns: it owns the
// placeholder-then-stream send pattern and the image re-attachment policy,
// writing results into the thread registry.
package runtime

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/OnslaughtSnail/glimpse/kernel/provider"
	"github.com/OnslaughtSnail/glimpse/kernel/thread"
)

// Bubble text for a user turn that carried only an image.
const imageOnlyBubble = "Shared a screenshot"

// Client is the model invocation surface the controller depends on.
type Client interface {
	Respond(ctx context.Context, req *provider.Request) iter.Seq2[*provider.Response, error]
}

// Manager binds live controllers to threads and exposes the registry
// views the UI needs. Construct one per process and close it on exit.
type Manager struct {
	registry *thread.Registry
	client   Client

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewManager(registry *thread.Registry, client Client) *Manager {
	return &Manager{
		registry:    registry,
		client:      client,
		controllers: map[string]*Controller{},
	}
}

// Open binds a controller to a thread, marking it open. An empty id starts
// a fresh thread. Opening an already-open thread returns its live
// controller.
func (m *Manager) Open(id string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(id) == "" {
		id = m.registry.Create("", "", nil)
	} else if _, ok := m.registry.Get(id); !ok {
		return nil, thread.ErrThreadNotFound
	}
	if c, ok := m.controllers[id]; ok {
		return c, nil
	}
	c := &Controller{
		manager:  m,
		registry: m.registry,
		client:   m.client,
		threadID: id,
	}
	m.registry.Bind(id)
	m.controllers[id] = c
	return c, nil
}

// Send is the collaborator-facing one-shot surface: it opens (or reuses)
// the thread's controller and performs one turn. An empty threadID starts
// a new thread; the effective id comes back in the result.
func (m *Manager) Send(ctx context.Context, threadID string, image []byte, text string, onDelta, onDebug func(string)) (*SendResult, error) {
	c, err := m.Open(threadID)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, SendInput{Text: text, Image: image, OnDelta: onDelta, OnDebug: onDebug})
}

// ListThreads returns the registry entries, newest first.
func (m *Manager) ListThreads() []thread.Entry {
	return m.registry.List()
}

// ClearHistory removes every non-open thread.
func (m *Manager) ClearHistory() {
	m.registry.ClearHistory()
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controllers, id)
	m.registry.Release(id)
}

// Controller sequences one conversation's turns.
type Controller struct {
	manager  *Manager
	registry *thread.Registry
	client   Client
	threadID string

	mu           sync.Mutex
	sending      bool
	pendingImage []byte
	lastImage    []byte
}

// ThreadID reports the bound thread.
func (c *Controller) ThreadID() string {
	return c.threadID
}

// SetPendingImage stages a freshly captured image for the next send.
func (c *Controller) SetPendingImage(image []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingImage = image
}

// Close unbinds the controller. An in-flight send keeps running and its
// late deltas still land in the snapshot; they are simply no longer
// visible as "open".
func (c *Controller) Close() {
	c.manager.release(c.threadID)
}

// SendInput is one turn's worth of user input.
type SendInput struct {
	Text string
	// Image stages a fresh capture, equivalent to SetPendingImage first.
	Image   []byte
	OnDelta func(string)
	OnDebug func(string)
}

// SendResult is the completed turn.
type SendResult struct {
	Text     string
	ThreadID string
}

// Send performs one turn: append the user message and an empty assistant
// placeholder, stream deltas into the placeholder, then record the
// continuation token. An empty draft with no pending image is a no-op
// returning a nil result. On failure the user message stays and the
// assistant bubble shows the error.
func (c *Controller) Send(ctx context.Context, input SendInput) (*SendResult, error) {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return nil, &ConversationBusyError{ThreadID: c.threadID}
	}
	if len(input.Image) > 0 {
		c.pendingImage = input.Image
	}
	draft := strings.TrimSpace(input.Text)
	if draft == "" && len(c.pendingImage) == 0 {
		c.mu.Unlock()
		return nil, nil
	}

	snap, ok := c.registry.Get(c.threadID)
	if !ok {
		c.mu.Unlock()
		return nil, thread.ErrThreadNotFound
	}
	image := c.pendingImage
	usedPending := len(image) > 0
	if !usedPending && snap.ContinuationToken == "" && len(snap.Messages) > 0 {
		// No chaining token ever came back for this conversation: re-attach
		// the last image sent so the model keeps its visual context.
		image = c.lastImage
	}
	bubble := draft
	if bubble == "" {
		bubble = imageOnlyBubble
	}
	now := time.Now()
	c.registry.Append(c.threadID, []thread.Message{
		{Role: thread.RoleUser, Text: bubble, CreatedAt: now},
		{Role: thread.RoleAssistant, Text: "", CreatedAt: now},
	}, thread.AppendOptions{})
	if draft != "" {
		c.registry.RenameIfAutoTitled(c.threadID, draft)
	}
	c.sending = true
	c.mu.Unlock()

	debugf(input.OnDebug, "send thread=%s draft=%dB image=%dB token=%v", c.threadID, len(draft), len(image), snap.ContinuationToken != "")
	req := &provider.Request{
		Text:              draft,
		ImagePNG:          image,
		ContinuationToken: snap.ContinuationToken,
	}
	var (
		streamed strings.Builder
		final    *provider.Response
		sendErr  error
	)
	for resp, err := range c.client.Respond(ctx, req) {
		if err != nil {
			sendErr = err
			break
		}
		if resp == nil {
			continue
		}
		if resp.Delta != "" {
			streamed.WriteString(resp.Delta)
			c.registry.AppendToLastAssistant(c.threadID, resp.Delta)
			if input.OnDelta != nil {
				input.OnDelta(resp.Delta)
			}
		}
		if resp.TurnComplete {
			final = resp
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if sendErr != nil {
		// Already-applied deltas stay; the user message is never rolled back.
		if streamed.Len() == 0 {
			c.registry.SetLastAssistantText(c.threadID, "Error: "+sendErr.Error())
		} else {
			c.registry.AppendToLastAssistant(c.threadID, "\n\nError: "+sendErr.Error())
		}
		debugf(input.OnDebug, "send thread=%s failed: %v", c.threadID, sendErr)
		return nil, sendErr
	}
	if final == nil {
		return nil, provider.ErrNoTextProduced
	}
	if final.ContinuationToken != "" {
		c.registry.SetContinuationToken(c.threadID, final.ContinuationToken)
	}
	if streamed.Len() == 0 && final.Text != "" {
		// Full text recovered without deltas; write it into the placeholder.
		c.registry.SetLastAssistantText(c.threadID, final.Text)
	}
	if len(image) > 0 {
		c.lastImage = image
	}
	if usedPending {
		c.pendingImage = nil
	}
	debugf(input.OnDebug, "send thread=%s done text=%dB token=%v", c.threadID, len(final.Text), final.ContinuationToken != "")
	return &SendResult{Text: final.Text, ThreadID: c.threadID}, nil
}

func debugf(sink func(string), format string, args ...any) {
	if sink == nil {
		return
	}
	sink(fmt.Sprintf(format, args...))
}
