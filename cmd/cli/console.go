package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"

	"github.com/OnslaughtSnail/glimpse/kernel/capture"
	"github.com/OnslaughtSnail/glimpse/kernel/provider"
	"github.com/OnslaughtSnail/glimpse/kernel/runtime"
	"github.com/OnslaughtSnail/glimpse/kernel/thread"
)

const interruptExitWindow = 2 * time.Second

type console struct {
	baseCtx  context.Context
	manager  *runtime.Manager
	registry *thread.Registry
	provider *provider.Client
	index    *threadIndex

	maxImageDim int
	version     string
	debug       bool

	editor   lineEditor
	out      io.Writer
	markdown *markdownRenderer
	commands map[string]slashCommand

	current    *runtime.Controller
	lastAnswer string

	runMu           sync.Mutex
	activeRunCancel context.CancelFunc
	interruptMu     sync.Mutex
	lastInterruptAt time.Time
}

type slashCommand struct {
	Usage       string
	Description string
	Handle      func(*console, []string) (bool, error)
}

var commandOrder = []string{
	"help", "version", "new", "threads", "open", "close",
	"capture", "transcribe", "copy", "search", "clear-history",
	"validate", "exit",
}

type consoleConfig struct {
	BaseContext context.Context
	Manager     *runtime.Manager
	Registry    *thread.Registry
	Provider    *provider.Client
	Index       *threadIndex
	MaxImageDim int
	HistoryFile string
	Version     string
	Debug       bool
}

func newConsole(cfg consoleConfig) *console {
	editor := newLineEditor(cfg.HistoryFile, commandOrder)
	out := editor.Output()
	c := &console{
		baseCtx:     cfg.BaseContext,
		manager:     cfg.Manager,
		registry:    cfg.Registry,
		provider:    cfg.Provider,
		index:       cfg.Index,
		maxImageDim: cfg.MaxImageDim,
		version:     strings.TrimSpace(cfg.Version),
		debug:       cfg.Debug,
		editor:      editor,
		out:         out,
		markdown:    newMarkdownRenderer(isTTY(os.Stdout)),
	}
	c.commands = map[string]slashCommand{
		"help":    {Usage: "/help", Description: "Show command help", Handle: handleHelp},
		"version": {Usage: "/version", Description: "Show version info", Handle: handleVersion},
		"exit":    {Usage: "/exit", Description: "Quit", Handle: handleExit},
		"new":     {Usage: "/new", Description: "Start a new thread", Handle: handleNew},
		"threads": {Usage: "/threads", Description: "List saved threads", Handle: handleThreads},
		"open":    {Usage: "/open <n|id>", Description: "Open a thread and replay its transcript", Handle: handleOpen},
		"close":   {Usage: "/close", Description: "Close the current thread", Handle: handleClose},
		"capture": {Usage: "/capture <image> [message]", Description: "Attach a screenshot to the next message", Handle: handleCapture},
		"transcribe": {Usage: "/transcribe <audio>", Description: "Transcribe an audio file and send it",
			Handle: handleTranscribe},
		"copy":          {Usage: "/copy", Description: "Copy the last answer to the clipboard", Handle: handleCopy},
		"search":        {Usage: "/search <term>", Description: "Search threads by title or message", Handle: handleSearch},
		"clear-history": {Usage: "/clear-history", Description: "Delete all closed threads", Handle: handleClearHistory},
		"validate":      {Usage: "/validate", Description: "Check the API key against the endpoint", Handle: handleValidate},
	}
	c.commands["quit"] = c.commands["exit"]
	return c
}

func (c *console) loop() error {
	c.printf("%s %s. /help for commands.\n", appName, c.version)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	stopSignals := make(chan struct{})
	go c.handleInterruptSignals(sigCh, stopSignals)
	defer func() {
		close(stopSignals)
		signal.Stop(sigCh)
		_ = c.editor.Close()
	}()
	for {
		line, err := c.editor.ReadLine(c.prompt())
		if err != nil {
			if errors.Is(err, errInputInterrupt) {
				if c.registerInterruptAndShouldExit() {
					c.printf("\n")
					return nil
				}
				c.printf("\n")
				continue
			}
			if errors.Is(err, errInputEOF) {
				c.printf("\n")
				return nil
			}
			return err
		}
		if line == "" {
			c.resetInterruptWindow()
			continue
		}
		c.resetInterruptWindow()
		if strings.HasPrefix(line, "/") {
			exitNow, err := c.handleSlash(line)
			if err != nil {
				errorStyle.Fprintf(c.out, "error: %v\n", err)
			}
			if exitNow {
				return nil
			}
			continue
		}
		if err := c.sendTurn(line); err != nil {
			if errors.Is(err, context.Canceled) {
				c.printf("! interrupted\n")
				continue
			}
			errorStyle.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *console) prompt() string {
	if c.current == nil {
		return "> "
	}
	snapshot, ok := c.registry.Get(c.current.ThreadID())
	if !ok || thread.IsAutoTitle(snapshot.Title) {
		return "> "
	}
	return truncateInline(snapshot.Title, 24) + " > "
}

func (c *console) handleInterruptSignals(sigCh <-chan os.Signal, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-sigCh:
			// Ctrl+C during a send cancels it; at the prompt readline
			// reports the same keypress via errInputInterrupt.
			c.cancelActiveRun()
		}
	}
}

func (c *console) handleSlash(line string) (bool, error) {
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return false, nil
	}
	name := strings.ToLower(parts[0])
	cmd, ok := c.commands[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q, use /help", name)
	}
	return cmd.Handle(c, parts[1:])
}

// sendTurn performs one exchange on the current thread, creating one if
// none is open. Deltas print as they arrive.
func (c *console) sendTurn(input string) error {
	return c.sendWith(input, nil)
}

func (c *console) sendWith(input string, image []byte) error {
	ctrl, err := c.ensureController()
	if err != nil {
		return err
	}
	if len(image) > 0 {
		ctrl.SetPendingImage(image)
	}
	runCtx, cancel := context.WithCancel(c.baseCtx)
	c.setActiveRunCancel(cancel)
	defer func() {
		c.clearActiveRunCancel()
		cancel()
	}()

	streamed := false
	onDelta := func(delta string) {
		if !streamed {
			fmt.Fprint(c.out, "* ")
			streamed = true
		}
		fmt.Fprint(c.out, delta)
	}
	var onDebug func(string)
	if c.debug {
		onDebug = func(line string) {
			faintStyle.Fprintf(c.out, "# %s\n", line)
		}
	}
	result, err := ctrl.Send(runCtx, runtime.SendInput{
		Text:    input,
		OnDelta: onDelta,
		OnDebug: onDebug,
	})
	if streamed {
		fmt.Fprintln(c.out)
	}
	if err != nil {
		if runtime.IsConversationBusy(err) {
			return fmt.Errorf("a reply is still streaming, wait for it to finish")
		}
		return err
	}
	if result == nil {
		return nil
	}
	c.lastAnswer = result.Text
	if !streamed && result.Text != "" {
		fmt.Fprint(c.out, c.markdown.Render(result.Text))
	}
	c.touchIndex(result.ThreadID, input)
	return nil
}

func (c *console) ensureController() (*runtime.Controller, error) {
	if c.current != nil {
		return c.current, nil
	}
	ctrl, err := c.manager.Open("")
	if err != nil {
		return nil, err
	}
	c.current = ctrl
	return ctrl, nil
}

func (c *console) touchIndex(threadID, userText string) {
	if c.index == nil {
		return
	}
	title := ""
	if snapshot, ok := c.registry.Get(threadID); ok {
		title = snapshot.Title
	}
	if err := c.index.Touch(threadID, title, truncateInline(userText, 160), time.Now()); err != nil {
		c.printf("warn: update thread index failed: %v\n", err)
	}
}

func (c *console) setActiveRunCancel(cancel context.CancelFunc) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.activeRunCancel = cancel
}

func (c *console) clearActiveRunCancel() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.activeRunCancel = nil
}

func (c *console) cancelActiveRun() bool {
	c.runMu.Lock()
	cancel := c.activeRunCancel
	c.runMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

func (c *console) registerInterruptAndShouldExit() bool {
	c.interruptMu.Lock()
	defer c.interruptMu.Unlock()
	now := time.Now()
	shouldExit := !c.lastInterruptAt.IsZero() && now.Sub(c.lastInterruptAt) <= interruptExitWindow
	c.lastInterruptAt = now
	return shouldExit
}

func (c *console) resetInterruptWindow() {
	c.interruptMu.Lock()
	defer c.interruptMu.Unlock()
	c.lastInterruptAt = time.Time{}
}

func handleHelp(c *console, args []string) (bool, error) {
	_ = args
	c.printf("Available commands:\n")
	for _, name := range commandOrder {
		cmd := c.commands[name]
		c.printf("  %-28s %s\n", cmd.Usage, cmd.Description)
	}
	return false, nil
}

func handleVersion(c *console, args []string) (bool, error) {
	_ = args
	if c.version == "" {
		c.printf("version=unknown\n")
		return false, nil
	}
	c.printf("version=%s\n", c.version)
	return false, nil
}

func handleExit(c *console, args []string) (bool, error) {
	_ = c
	_ = args
	return true, nil
}

func handleNew(c *console, args []string) (bool, error) {
	if len(args) != 0 {
		return false, fmt.Errorf("usage: /new")
	}
	if c.current != nil {
		c.current.Close()
		c.current = nil
	}
	ctrl, err := c.manager.Open("")
	if err != nil {
		return false, err
	}
	c.current = ctrl
	c.lastAnswer = ""
	statusStyle.Fprintf(c.out, "new thread started: %s\n", shortID(ctrl.ThreadID()))
	return false, nil
}

func handleThreads(c *console, args []string) (bool, error) {
	_ = args
	currentID := ""
	if c.current != nil {
		currentID = c.current.ThreadID()
	}
	writeThreadTable(c.out, c.manager.ListThreads(), currentID)
	return false, nil
}

func handleOpen(c *console, args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("usage: /open <n|id>")
	}
	id, err := c.resolveThreadRef(args[0])
	if err != nil {
		return false, err
	}
	ctrl, err := c.manager.Open(id)
	if err != nil {
		return false, err
	}
	if c.current != nil && c.current.ThreadID() != id {
		c.current.Close()
	}
	c.current = ctrl
	c.lastAnswer = ""
	c.replayTranscript(id)
	return false, nil
}

// resolveThreadRef accepts a 1-based row number from /threads, a full
// thread id, or an unambiguous id prefix.
func (c *console) resolveThreadRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	entries := c.manager.ListThreads()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(entries) {
			return "", fmt.Errorf("no thread at row %d", n)
		}
		return entries[n-1].ID, nil
	}
	match := ""
	for _, entry := range entries {
		if entry.ID == ref {
			return entry.ID, nil
		}
		if strings.HasPrefix(entry.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("thread id prefix %q is ambiguous", ref)
			}
			match = entry.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no thread matches %q", ref)
	}
	return match, nil
}

func (c *console) replayTranscript(id string) {
	snapshot, ok := c.registry.Get(id)
	if !ok {
		return
	}
	statusStyle.Fprintf(c.out, "opened %q (%d messages)\n", snapshot.Title, len(snapshot.Messages))
	for _, msg := range snapshot.Messages {
		switch msg.Role {
		case thread.RoleUser:
			c.printf("- %s\n", msg.Text)
		case thread.RoleAssistant:
			fmt.Fprint(c.out, c.markdown.Render(msg.Text))
			c.lastAnswer = msg.Text
		}
	}
}

func handleClose(c *console, args []string) (bool, error) {
	if len(args) != 0 {
		return false, fmt.Errorf("usage: /close")
	}
	if c.current == nil {
		return false, fmt.Errorf("no thread is open")
	}
	id := c.current.ThreadID()
	c.current.Close()
	c.current = nil
	c.lastAnswer = ""
	statusStyle.Fprintf(c.out, "closed %s\n", shortID(id))
	return false, nil
}

func handleCapture(c *console, args []string) (bool, error) {
	if len(args) == 0 {
		return false, fmt.Errorf("usage: /capture <image> [message]")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return false, fmt.Errorf("read capture: %w", err)
	}
	prepared, err := capture.Prepare(raw, c.maxImageDim)
	if err != nil {
		return false, err
	}
	message := strings.TrimSpace(strings.Join(args[1:], " "))
	if message != "" {
		return false, c.sendWith(message, prepared)
	}
	ctrl, err := c.ensureController()
	if err != nil {
		return false, err
	}
	ctrl.SetPendingImage(prepared)
	statusStyle.Fprintf(c.out, "capture staged, it goes out with your next message\n")
	return false, nil
}

func handleTranscribe(c *console, args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("usage: /transcribe <audio>")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return false, fmt.Errorf("read audio: %w", err)
	}
	text, err := c.provider.TranscribeAudio(c.baseCtx, raw)
	if err != nil {
		return false, err
	}
	c.printf("- %s\n", text)
	return false, c.sendTurn(text)
}

func handleCopy(c *console, args []string) (bool, error) {
	_ = args
	if strings.TrimSpace(c.lastAnswer) == "" {
		return false, fmt.Errorf("nothing to copy yet")
	}
	if err := clipboard.WriteAll(c.lastAnswer); err != nil {
		return false, fmt.Errorf("copy to clipboard: %w", err)
	}
	statusStyle.Fprintf(c.out, "answer copied to clipboard\n")
	return false, nil
}

func handleSearch(c *console, args []string) (bool, error) {
	if len(args) == 0 {
		return false, fmt.Errorf("usage: /search <term>")
	}
	if c.index == nil {
		return false, fmt.Errorf("thread index is not available")
	}
	term := strings.Join(args, " ")
	records, err := c.index.Search(term, 20)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		c.printf("no threads match %q\n", term)
		return false, nil
	}
	for _, rec := range records {
		preview := rec.LastUserMessage
		if preview == "" {
			preview = "-"
		}
		c.printf("  %s  %s  %s\n", shortID(rec.ThreadID),
			truncateInline(rec.Title, 40), truncateInline(preview, 60))
	}
	return false, nil
}

func handleClearHistory(c *console, args []string) (bool, error) {
	if len(args) != 0 {
		return false, fmt.Errorf("usage: /clear-history")
	}
	before := c.registry.Len()
	c.manager.ClearHistory()
	removed := before - c.registry.Len()
	if c.index != nil {
		keep := map[string]struct{}{}
		for _, entry := range c.manager.ListThreads() {
			keep[entry.ID] = struct{}{}
		}
		if err := c.index.Forget(keep); err != nil {
			c.printf("warn: prune thread index failed: %v\n", err)
		}
	}
	statusStyle.Fprintf(c.out, "removed %d threads\n", removed)
	return false, nil
}

func handleValidate(c *console, args []string) (bool, error) {
	_ = args
	if err := c.provider.ValidateCredentials(c.baseCtx); err != nil {
		return false, fmt.Errorf("credential check failed: %w", err)
	}
	statusStyle.Fprintf(c.out, "credentials ok\n")
	return false, nil
}

func (c *console) printf(format string, args ...any) {
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, format, args...)
}
