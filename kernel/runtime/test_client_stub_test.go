package runtime

import (
	"context"
	"iter"
	"sync"

	"github.com/OnslaughtSnail/glimpse/kernel/provider"
)

// scriptedTurn is one canned invocation outcome.
type scriptedTurn struct {
	deltas []string
	final  *provider.Response
	err    error
}

// stubClient replays scripted turns and records every request it saw.
type stubClient struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	requests []*provider.Request
}

func (s *stubClient) Respond(ctx context.Context, req *provider.Request) iter.Seq2[*provider.Response, error] {
	_ = ctx
	s.mu.Lock()
	cp := *req
	s.requests = append(s.requests, &cp)
	var turn scriptedTurn
	if len(s.turns) > 0 {
		turn = s.turns[0]
		s.turns = s.turns[1:]
	}
	s.mu.Unlock()
	return func(yield func(*provider.Response, error) bool) {
		for _, delta := range turn.deltas {
			if !yield(&provider.Response{Delta: delta}, nil) {
				return
			}
		}
		if turn.err != nil {
			yield(nil, turn.err)
			return
		}
		final := turn.final
		if final == nil {
			text := ""
			for _, d := range turn.deltas {
				text += d
			}
			final = &provider.Response{Text: text, TurnComplete: true}
		}
		yield(final, nil)
	}
}

func (s *stubClient) recorded() []*provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*provider.Request(nil), s.requests...)
}
