package dataset

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/aiperf/aiperf/pkg/messages"
	"github.com/aiperf/aiperf/pkg/records"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// Composer owns the conversation population and the turn-selection strategy
// for unaddressed requests. Implementations must be safe for concurrent use;
// the dataset manager serves many workers at once.
type Composer interface {
	// Get returns the conversation with the given session id.
	Get(conversationID string) (records.Conversation, bool)
	// Next picks a conversation for a request that names none.
	Next() records.Conversation
	// Count is the conversation population size.
	Count() int
	// Timing returns the fixed schedule, empty when the dataset is not
	// schedule-driven.
	Timing() []messages.TimingEntry
}

// memoryComposer serves a fixed set of conversations round-robin.
type memoryComposer struct {
	mtx           sync.Mutex
	conversations []records.Conversation
	byID          map[string]int
	next          int
	timing        []messages.TimingEntry
}

func newMemoryComposer(conversations []records.Conversation, timing []messages.TimingEntry) *memoryComposer {
	byID := make(map[string]int, len(conversations))
	for i, c := range conversations {
		byID[c.SessionID] = i
	}
	return &memoryComposer{conversations: conversations, byID: byID, timing: timing}
}

// NewSyntheticComposer builds count single-turn conversations with a fixed
// placeholder prompt. Real prompt synthesis is an external collaborator;
// this keeps the harness runnable without one.
func NewSyntheticComposer(count int) Composer {
	conversations := make([]records.Conversation, count)
	for i := range conversations {
		conversations[i] = records.Conversation{
			SessionID: fmt.Sprintf("session-%04d", i),
			Turns: []records.Turn{{
				Role:  "user",
				Texts: []records.Media{{Contents: []string{"Tell me about your capabilities."}}},
			}},
		}
	}
	return newMemoryComposer(conversations, nil)
}

func (c *memoryComposer) Get(conversationID string) (records.Conversation, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	idx, ok := c.byID[conversationID]
	if !ok {
		return records.Conversation{}, false
	}
	return c.conversations[idx], true
}

func (c *memoryComposer) Next() records.Conversation {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	conv := c.conversations[c.next%len(c.conversations)]
	c.next++
	return conv
}

func (c *memoryComposer) Count() int { return len(c.conversations) }

func (c *memoryComposer) Timing() []messages.TimingEntry { return c.timing }

// traceLine is one JSONL record of a conversation trace. Lines sharing a
// session id accumulate turns in file order.
type traceLine struct {
	SessionID   string         `json:"session_id"`
	TimestampMS int64          `json:"timestamp"`
	Turns       []records.Turn `json:"turns,omitempty"`
	// Single-turn shorthand used by flat traces.
	Turn *records.Turn `json:"turn,omitempty"`
}

// LoadTrace reads a JSONL conversation trace. Every line contributes its
// turns to its session's conversation and, when timestamped, one fixed
// schedule entry.
func LoadTrace(path string) (Composer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()

	var (
		conversations []records.Conversation
		byID          = map[string]int{}
		timing        []messages.TimingEntry
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line traceLine
		if err := jsonFast.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", lineNo, err)
		}
		if line.SessionID == "" {
			return nil, fmt.Errorf("trace line %d: missing session_id", lineNo)
		}

		turns := line.Turns
		if line.Turn != nil {
			turns = append(turns, *line.Turn)
		}

		idx, ok := byID[line.SessionID]
		if !ok {
			idx = len(conversations)
			byID[line.SessionID] = idx
			conversations = append(conversations, records.Conversation{SessionID: line.SessionID})
		}
		conversations[idx].Turns = append(conversations[idx].Turns, turns...)

		if line.TimestampMS > 0 {
			timing = append(timing, messages.TimingEntry{
				TimestampMS:    line.TimestampMS,
				ConversationID: line.SessionID,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace file: %w", err)
	}
	if len(conversations) == 0 {
		return nil, fmt.Errorf("trace file %s contains no conversations", path)
	}
	return newMemoryComposer(conversations, timing), nil
}
