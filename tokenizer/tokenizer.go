// Package tokenizer counts tokens the same way the upstream model does,
// so admission and quota accounting (spec.md §4.2, §4.5) reflect real
// token cost rather than a byte or word proxy.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
	errI error
)

// load lazily builds the shared encoder for encoding. tiktoken-go
// fetches its BPE rank file from the network on first use per process;
// callers in an offline environment should set the
// TIKTOKEN_CACHE_DIR env var ahead of time to a pre-populated cache.
func load(encoding string) (*tiktoken.Tiktoken, error) {
	once.Do(func() {
		enc, errI = tiktoken.GetEncoding(encoding)
	})
	return enc, errI
}

// Counter counts tokens for a single named encoding (spec.md's
// DEFAULT_TOKENIZER, cl100k_base by default).
type Counter struct {
	encoding string
}

// New returns a Counter for the given tiktoken encoding name. The
// encoder is loaded once per process, from the encoding of the first
// Counter that counts; later Counters share it whatever name they hold.
func New(encoding string) *Counter {
	return &Counter{encoding: encoding}
}

// Count returns the number of tokens prompt encodes to. On encoder
// load failure it falls back to a conservative chars/4 estimate rather
// than failing the request outright, since admission must stay
// available even if the rank file fetch failed.
func (c *Counter) Count(prompt string) int {
	enc, err := load(c.encoding)
	if err != nil {
		return len(prompt) / 4
	}
	return len(enc.Encode(prompt, nil, nil))
}

// Message is the minimal role/content pair token accounting needs.
type Message struct {
	Role    string
	Content string
}

// CountMessages mirrors the source's shorten_message_given_prompt_length
// preprocessing step: it renders "role: content" per line, joined by
// newlines, and counts the result.
func (c *Counter) CountMessages(messages []Message) int {
	return c.Count(renderMessages(messages))
}

// Shorten drops leading non-system messages one at a time until the
// remaining conversation fits within limit tokens, or only one message
// remains. It never removes system messages and never removes the
// last remaining message, matching the Python reference behavior.
func (c *Counter) Shorten(messages []Message, limit int) []Message {
	if c.CountMessages(messages) <= limit {
		return messages
	}

	shortened := make([]Message, len(messages))
	copy(shortened, messages)

	for len(shortened) > 1 {
		removeAt := -1
		for i, m := range shortened {
			if m.Role != "system" {
				removeAt = i
				break
			}
		}
		if removeAt == -1 {
			break
		}
		shortened = append(shortened[:removeAt], shortened[removeAt+1:]...)
		if c.CountMessages(shortened) <= limit {
			break
		}
	}
	return shortened
}

func renderMessages(messages []Message) string {
	var b []byte
	for i, m := range messages {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, m.Role...)
		b = append(b, ':', ' ')
		b = append(b, m.Content...)
	}
	return string(b)
}
