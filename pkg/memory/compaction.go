package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/indraastra/iffy-sub000/pkg/llm"
)

const compactionPrompt = `You are a memory consolidation system for an interactive story. You will receive the story's current memories, each with an importance rating from 1 to 10.

Consolidate them into at most %d memories:
- Prefer present-tense facts about the current state of the world over historical narration of actions.
- Merge related memories; when facts have been superseded by later events, keep only the current truth.
- Preserve high-importance memories; drop or fold in low-importance ones first.
- Each output memory is one short sentence with an importance rating.

Reply with a single JSON object.`

// compactionSchema shapes the consolidation reply.
func compactionSchema() *llm.Schema {
	return &llm.Schema{
		Name: "compaction",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"memories": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"content":    map[string]any{"type": "string"},
							"importance": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
						},
						"required": []string{"content", "importance"},
					},
				},
			},
			"required": []string{"memories"},
		},
	}
}

// Compact runs one consolidation pass synchronously. On success the
// compacted list replaces the memory list wholesale; on any failure the
// existing memories are left untouched and the failure is only visible
// through the returned error and the metrics recorder.
func (s *Store) Compact(ctx context.Context) error {
	s.mu.Lock()
	if s.model == nil {
		s.mu.Unlock()
		return fmt.Errorf("no model configured for compaction")
	}
	snapshot := make([]Entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	before := len(snapshot)
	if before == 0 {
		s.recorder.RecordCompaction(0, 0, nil)
		return nil
	}

	target := int(CompactionRatio * float64(before))
	if target < CompactionMinimum {
		target = CompactionMinimum
	}
	if target >= before {
		// Nothing to consolidate yet; just reset the counter.
		s.mu.Lock()
		s.sinceCompaction = 0
		s.mu.Unlock()
		s.recorder.RecordCompaction(before, before, nil)
		return nil
	}

	var list strings.Builder
	for _, e := range snapshot {
		fmt.Fprintf(&list, "- [importance %d] %s\n", e.Importance, e.Content)
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(compactionPrompt, target)},
		{Role: llm.RoleUser, Content: list.String()},
	}

	result, err := s.model.Invoke(ctx, messages, compactionSchema(), llm.Options{
		Temperature:  llm.Temp(0.3),
		UseCostModel: true,
	})
	if err != nil {
		s.recorder.RecordCompaction(before, before, err)
		return fmt.Errorf("compaction call failed: %w", err)
	}

	var reply struct {
		Memories []struct {
			Content    string `json:"content"`
			Importance int    `json:"importance"`
		} `json:"memories"`
	}
	if err := json.Unmarshal(result.Data, &reply); err != nil {
		s.recorder.RecordCompaction(before, before, err)
		return fmt.Errorf("compaction reply was not valid JSON: %w", err)
	}
	if len(reply.Memories) == 0 {
		err := fmt.Errorf("compaction produced no memories")
		s.recorder.RecordCompaction(before, before, err)
		return err
	}

	now := s.now()
	compacted := make([]Entry, 0, len(reply.Memories))
	for _, m := range reply.Memories {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		importance := m.Importance
		if importance < 1 {
			importance = 1
		}
		if importance > 10 {
			importance = 10
		}
		compacted = append(compacted, Entry{
			ID:         uuid.NewString(),
			Content:    content,
			Timestamp:  now,
			Importance: importance,
		})
	}
	if len(compacted) == 0 {
		err := fmt.Errorf("compaction produced only blank memories")
		s.recorder.RecordCompaction(before, before, err)
		return err
	}

	s.mu.Lock()
	s.entries = compacted
	s.sinceCompaction = 0
	s.mu.Unlock()

	s.recorder.RecordCompaction(before, len(compacted), nil)
	return nil
}

// runCompaction is the detached wrapper Add schedules. It clears the
// compacting gate when done and absorbs the error; the recorder has
// already seen it.
func (s *Store) runCompaction(ctx context.Context) {
	err := s.Compact(ctx)
	s.mu.Lock()
	s.compacting = false
	s.mu.Unlock()
	if err != nil && s.logger != nil {
		s.logger.Warn("Memory compaction failed, keeping existing memories", "error", err)
	}
}
