package story

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load parses a story from YAML and validates it.
func Load(r io.Reader) (*Story, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Story
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse story: %w", err)
	}

	// Scene ids come from the map keys.
	for id, scene := range s.Scenes {
		if scene == nil {
			s.Scenes[id] = &Scene{ID: id}
			continue
		}
		scene.ID = id
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and parses a story YAML file.
func LoadFile(path string) (*Story, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open story file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Validate checks the story's internal references. A story that passes is
// safe to hand to the engine: the start scene resolves and every declared
// transition target exists.
func (s *Story) Validate() error {
	if s.Title == "" {
		return fmt.Errorf("story title is required")
	}
	if len(s.Scenes) == 0 {
		return fmt.Errorf("story %q has no scenes", s.Title)
	}

	if _, err := s.StartScene(); err != nil {
		return err
	}

	for id, scene := range s.Scenes {
		if scene.Sketch == "" {
			return fmt.Errorf("scene %q has no sketch", id)
		}
		for _, t := range scene.Transitions {
			if _, ok := s.Scenes[t.Target]; !ok {
				return fmt.Errorf("scene %q has a transition to unknown scene %q", id, t.Target)
			}
		}
		for target := range scene.LeadsTo {
			if _, ok := s.Scenes[target]; !ok {
				return fmt.Errorf("scene %q leads to unknown scene %q", id, target)
			}
		}
	}

	seen := make(map[string]bool, len(s.Endings.Variations))
	for i, ending := range s.Endings.Variations {
		if ending.ID == "" {
			return fmt.Errorf("ending %d has no id", i)
		}
		if ending.Sketch == "" {
			return fmt.Errorf("ending %q has no sketch", ending.ID)
		}
		if seen[ending.ID] {
			return fmt.Errorf("duplicate ending id %q", ending.ID)
		}
		seen[ending.ID] = true
	}

	return nil
}
