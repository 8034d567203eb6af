// Package llmfake provides a scriptable llm.Chatter double for tests,
// modeled on internal/agent/mock_client.go's tag-keyed canned-response
// idiom (there keyed by prompt content, here keyed by the caller-supplied
// Options.Tag since our prompt builders always set one).
package llmfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/vampirenirmal/taletwo/internal/llm"
)

// Fake is a llm.Chatter that returns a scripted response per tag, or the
// default response if no tag-specific one was registered. It records
// every call for assertions.
type Fake struct {
	mu        sync.Mutex
	byTag     map[string][]string // queue of responses, consumed in order
	byTagErr  map[string]error
	Default   string
	Calls     []Call
}

// Call records one Chat invocation for later inspection.
type Call struct {
	Messages []llm.Message
	Opts     llm.Options
}

// New constructs an empty Fake; use Enqueue/EnqueueError/SetDefault to
// script responses before use.
func New() *Fake {
	return &Fake{
		byTag:    make(map[string][]string),
		byTagErr: make(map[string]error),
	}
}

// Enqueue appends a response to the queue for tag; successive calls with
// the same tag consume the queue front-to-back.
func (f *Fake) Enqueue(tag, response string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byTag[tag] = append(f.byTag[tag], response)
	return f
}

// EnqueueError makes the next call for tag fail with err.
func (f *Fake) EnqueueError(tag string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byTagErr[tag] = err
	return f
}

// SetDefault sets the response returned when no tag-specific queue entry
// is available.
func (f *Fake) SetDefault(response string) *Fake {
	f.Default = response
	return f
}

// Chat implements llm.Chatter.
func (f *Fake) Chat(_ context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Messages: messages, Opts: opts})

	if err, ok := f.byTagErr[opts.Tag]; ok {
		delete(f.byTagErr, opts.Tag)
		return "", err
	}

	if queue := f.byTag[opts.Tag]; len(queue) > 0 {
		f.byTag[opts.Tag] = queue[1:]
		return queue[0], nil
	}

	if f.Default != "" {
		return f.Default, nil
	}

	return "", fmt.Errorf("llmfake: no scripted response for tag %q", opts.Tag)
}

// CallCount returns the number of Chat calls made with the given tag.
func (f *Fake) CallCount(tag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Opts.Tag == tag {
			n++
		}
	}
	return n
}
