package story

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Story is the template for an interactive-fiction session. It is loaded
// once and never mutated during play.
type Story struct {
	Title    string             `yaml:"title" json:"title"`
	Guidance string             `yaml:"guidance,omitempty" json:"guidance,omitempty"` // global storytelling guidance
	Voice    string             `yaml:"voice,omitempty" json:"voice,omitempty"`       // narrative voice and tone
	Rating   string             `yaml:"rating,omitempty" json:"rating,omitempty"`     // content rating, e.g. "PG-13"
	Start    string             `yaml:"start,omitempty" json:"start,omitempty"`       // entry scene id
	Scenes   map[string]*Scene  `yaml:"scenes" json:"scenes"`
	Endings  EndingCollection   `yaml:"endings,omitempty" json:"endings,omitempty"`
	Flags    map[string]FlagDef `yaml:"flags,omitempty" json:"flags,omitempty"`
}

// FlagDef declares a story flag: its default value, a natural-language hint
// to the narrator about when to set it, and an optional condition gating
// non-default writes.
type FlagDef struct {
	Default     Value      `yaml:"default" json:"default"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Requires    *Condition `yaml:"requires,omitempty" json:"requires,omitempty"`
}

// Scene is a single scene with its narrative seed and outgoing transitions.
type Scene struct {
	ID           string           `yaml:"-" json:"id"`
	Sketch       string           `yaml:"sketch" json:"sketch"`
	Transitions  TransitionList   `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	LeadsTo      map[string]string `yaml:"leads_to,omitempty" json:"leads_to,omitempty"` // legacy: target -> natural-language condition
	InitialFlags map[string]Value `yaml:"initial_flags,omitempty" json:"initial_flags,omitempty"`
}

// Transition is an outgoing edge from a scene, gated by a flag condition.
type Transition struct {
	Target string     `json:"target"`
	If     *Condition `json:"if,omitempty"`
}

// TransitionList preserves the declared order of a scene's transitions.
// Transition checks are "first declared, first fired", so the
// YAML mapping order is significant and a plain map will not do.
type TransitionList []Transition

func (tl *TransitionList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: transitions must be a mapping of target scene to condition", node.Line)
	}
	out := make(TransitionList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var target string
		if err := node.Content[i].Decode(&target); err != nil {
			return fmt.Errorf("line %d: invalid transition target: %w", node.Content[i].Line, err)
		}
		var cond *Condition
		if node.Content[i+1].Tag != "!!null" {
			cond = &Condition{}
			if err := node.Content[i+1].Decode(cond); err != nil {
				return fmt.Errorf("transition %q: invalid condition: %w", target, err)
			}
		}
		out = append(out, Transition{Target: target, If: cond})
	}
	*tl = out
	return nil
}

func (tl TransitionList) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, t := range tl {
		key := &yaml.Node{}
		if err := key.Encode(t.Target); err != nil {
			return nil, err
		}
		val := &yaml.Node{}
		if t.If == nil {
			val.Kind = yaml.ScalarNode
			val.Tag = "!!null"
		} else if err := val.Encode(t.If); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, key, val)
	}
	return node, nil
}

// EndingCollection holds a story's endings. The collection-level Requires
// gates eligibility of any ending regardless of per-ending conditions.
type EndingCollection struct {
	Requires   *Condition `yaml:"requires,omitempty" json:"requires,omitempty"`
	When       StringList `yaml:"when,omitempty" json:"when,omitempty"` // legacy natural-language gate
	Variations []Ending   `yaml:"variations,omitempty" json:"variations,omitempty"`
}

// Ending is one way the story can conclude.
type Ending struct {
	ID       string     `yaml:"id" json:"id"`
	Sketch   string     `yaml:"sketch" json:"sketch"`
	Requires *Condition `yaml:"requires,omitempty" json:"requires,omitempty"`
	When     StringList `yaml:"when,omitempty" json:"when,omitempty"` // legacy natural-language condition
}

// StringList accepts either a single string or a list of strings, for the
// legacy "when" format.
type StringList []string

func (sl *StringList) UnmarshalYAML(node *yaml.Node) error {
	var single string
	if err := node.Decode(&single); err == nil {
		*sl = StringList{single}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return fmt.Errorf("line %d: expected a string or list of strings", node.Line)
	}
	*sl = StringList(many)
	return nil
}

// StartScene resolves the story's entry point. With an explicit start field
// it must name a known scene; with exactly one scene, that scene is the
// entry point.
func (s *Story) StartScene() (*Scene, error) {
	if s.Start != "" {
		scene, ok := s.Scenes[s.Start]
		if !ok {
			return nil, fmt.Errorf("start scene %q not found", s.Start)
		}
		return scene, nil
	}
	if len(s.Scenes) == 1 {
		for _, scene := range s.Scenes {
			return scene, nil
		}
	}
	return nil, fmt.Errorf("story has %d scenes but no start scene declared", len(s.Scenes))
}

// Scene returns the scene with the given id.
func (s *Story) Scene(id string) (*Scene, bool) {
	scene, ok := s.Scenes[id]
	return scene, ok
}

// HasEndings reports whether the story declares any ending variations.
func (s *Story) HasEndings() bool {
	return len(s.Endings.Variations) > 0
}
