package tokenizer

import "testing"

// These tests exercise Count/Shorten against the real cl100k_base
// encoder. tiktoken-go fetches its BPE rank file over the network on
// first use; set TIKTOKEN_CACHE_DIR ahead of time in offline CI.

func TestCountNonEmpty(t *testing.T) {
	c := New("cl100k_base")
	if n := c.Count("hello world"); n <= 0 {
		t.Fatalf("expected positive token count, got %d", n)
	}
	if n := c.Count(""); n != 0 {
		t.Fatalf("expected 0 tokens for empty string, got %d", n)
	}
}

func TestShortenReturnsUnchangedWhenUnderLimit(t *testing.T) {
	c := New("cl100k_base")
	messages := []Message{
		{Role: "system", Content: "you are a helpful assistant"},
		{Role: "user", Content: "hi"},
	}
	shortened := c.Shorten(messages, 10000)
	if len(shortened) != len(messages) {
		t.Fatalf("expected no shortening under limit, got %d messages", len(shortened))
	}
}

func TestShortenNeverRemovesSystemMessages(t *testing.T) {
	c := New("cl100k_base")
	messages := []Message{
		{Role: "system", Content: "you are a helpful assistant, be concise and thorough"},
		{Role: "user", Content: "first message in a long conversation"},
		{Role: "assistant", Content: "first reply in a long conversation"},
		{Role: "user", Content: "second message in a long conversation"},
	}
	shortened := c.Shorten(messages, 1)
	if len(shortened) == 0 {
		t.Fatalf("expected at least one message to remain")
	}
	if shortened[0].Role != "system" {
		t.Fatalf("expected system message preserved at front, got %+v", shortened[0])
	}
}

func TestShortenNeverEmptiesMessages(t *testing.T) {
	c := New("cl100k_base")
	messages := []Message{
		{Role: "user", Content: "a conversation that will not fit no matter how aggressively it is trimmed"},
	}
	shortened := c.Shorten(messages, 1)
	if len(shortened) != 1 {
		t.Fatalf("expected the last remaining message to survive, got %d", len(shortened))
	}
}
