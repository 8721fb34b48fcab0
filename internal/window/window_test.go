package window

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/vigil/modbot/internal/protocol"
)

func msg(author, text string) protocol.MessageRef {
	return protocol.MessageRef{
		Author:  protocol.User{ID: author, Name: "user-" + author},
		Content: text,
	}
}

func TestAddAndMessages(t *testing.T) {
	w := New(0)

	w.Add("chan1", msg("a", "hello"))
	w.Add("chan1", msg("b", "hi"))
	w.Add("chan1", msg("a", "how are you?"))

	msgs := w.Messages("chan1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" {
		t.Errorf("expected first message 'hello', got %q", msgs[0].Content)
	}
	if msgs[2].Content != "how are you?" {
		t.Errorf("expected third message 'how are you?', got %q", msgs[2].Content)
	}
}

func TestRingBufferWraparound(t *testing.T) {
	w := New(5)

	// Add 7 messages; the buffer holds only 5.
	for i := 1; i <= 7; i++ {
		w.Add("chan1", msg("sender", fmt.Sprintf("msg-%d", i)))
	}

	msgs := w.Messages("chan1")
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}

	// Should contain messages 3 through 7 in order.
	for i, m := range msgs {
		expected := fmt.Sprintf("msg-%d", i+3)
		if m.Content != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, m.Content)
		}
	}
}

func TestMessagesNonExistentChannel(t *testing.T) {
	w := New(0)

	msgs := w.Messages("does-not-exist")
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestNewest(t *testing.T) {
	w := New(3)

	if _, ok := w.Newest("chan1"); ok {
		t.Fatal("expected no newest message for empty channel")
	}

	for i := 1; i <= 5; i++ {
		w.Add("chan1", msg("a", fmt.Sprintf("msg-%d", i)))
	}

	newest, ok := w.Newest("chan1")
	if !ok {
		t.Fatal("expected a newest message")
	}
	if newest.Content != "msg-5" {
		t.Errorf("expected newest 'msg-5', got %q", newest.Content)
	}
}

func TestTranscript(t *testing.T) {
	w := New(0)

	w.Add("chan1", msg("12", "hey kid"))
	w.Add("chan1", msg("34", "who is this"))

	got := w.Transcript("chan1")
	want := "User #12: hey kid\nUser #34: who is this\n"
	if got != want {
		t.Errorf("transcript mismatch:\ngot:  %q\nwant: %q", got, want)
	}

	if !strings.HasSuffix(got, "\n") {
		t.Error("transcript should end with a newline")
	}
}

func TestRemove(t *testing.T) {
	w := New(3)

	first := msg("a", "hello")
	first.MessageID = "1"
	second := msg("b", "you are garbage")
	second.MessageID = "2"
	third := msg("a", "ignore him")
	third.MessageID = "3"

	w.Add("chan1", first)
	w.Add("chan1", second)
	w.Add("chan1", third)

	w.Remove("chan1", "2")

	msgs := w.Messages("chan1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after remove, got %d", len(msgs))
	}
	if msgs[0].MessageID != "1" || msgs[1].MessageID != "3" {
		t.Fatalf("unexpected order after remove: %q, %q", msgs[0].MessageID, msgs[1].MessageID)
	}

	newest, ok := w.Newest("chan1")
	if !ok || newest.MessageID != "3" {
		t.Fatalf("newest after remove = %+v, ok=%v", newest, ok)
	}

	// The freed slot is writable again without disturbing order.
	fourth := msg("b", "sorry")
	fourth.MessageID = "4"
	w.Add("chan1", fourth)
	msgs = w.Messages("chan1")
	if len(msgs) != 3 || msgs[2].MessageID != "4" {
		t.Fatalf("unexpected buffer after re-add: %+v", msgs)
	}

	// Unknown channel or message ID is a no-op.
	w.Remove("does-not-exist", "1")
	w.Remove("chan1", "99")
	if got := len(w.Messages("chan1")); got != 3 {
		t.Fatalf("expected 3 messages, got %d", got)
	}
}

func TestMultipleChannels(t *testing.T) {
	w := New(0)

	w.Add("chan1", msg("a", "c1-msg1"))
	w.Add("chan2", msg("b", "c2-msg1"))
	w.Add("chan1", msg("b", "c1-msg2"))

	if got := len(w.Messages("chan1")); got != 2 {
		t.Fatalf("chan1: expected 2 messages, got %d", got)
	}
	if got := len(w.Messages("chan2")); got != 1 {
		t.Fatalf("chan2: expected 1 message, got %d", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	w := New(DefaultCapacity)
	channelID := "concurrent-chan"
	goroutines := 100
	messagesPerGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for m := 0; m < messagesPerGoroutine; m++ {
				w.Add(channelID, msg(fmt.Sprintf("sender-%d", id), fmt.Sprintf("g%d-m%d", id, m)))
				// Interleave reads to stress the RWMutex.
				_ = w.Messages(channelID)
				_, _ = w.Newest(channelID)
			}
		}(g)
	}

	wg.Wait()

	msgs := w.Messages(channelID)
	if len(msgs) != DefaultCapacity {
		t.Fatalf("expected %d messages after concurrent writes, got %d", DefaultCapacity, len(msgs))
	}
}
