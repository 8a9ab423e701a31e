package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/indraastra/iffy-sub000/pkg/story"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <story.yaml>\n", os.Args[0])
		os.Exit(1)
	}

	filename := os.Args[1]
	validator := &StoryValidator{}

	if err := validator.validateFile(filename); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Story file is valid!")
}

type StoryValidator struct {
	errors []string
}

func (v *StoryValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	baseName := filepath.Base(filename)
	ext := filepath.Ext(baseName)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("story file must have .yaml or .yml extension: %s", baseName)
	}

	nameWithoutExt := strings.TrimSuffix(baseName, ext)
	if !isValidID(nameWithoutExt) {
		return fmt.Errorf("story filename '%s' must be lowercase snake_case (e.g., my_story.yaml)", baseName)
	}

	// LoadFile already enforces strict fields and structural validity.
	s, err := story.LoadFile(filename)
	if err != nil {
		return err
	}

	v.errors = nil
	v.validateStory(s)

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}

	return nil
}

func (v *StoryValidator) validateStory(s *story.Story) {
	for sceneID, scene := range s.Scenes {
		v.validateIDFormat("scene ID", sceneID)
		v.validateScene(s, scene, sceneID)
	}

	for flagName, def := range s.Flags {
		v.validateIDFormat("flag name", flagName)
		v.validateCondition(s, def.Requires, fmt.Sprintf("requires of flag %s", flagName))
	}

	v.validateCondition(s, s.Endings.Requires, "global ending requires")
	for _, ending := range s.Endings.Variations {
		v.validateIDFormat("ending ID", ending.ID)
		v.validateCondition(s, ending.Requires, fmt.Sprintf("requires of ending %s", ending.ID))
	}
}

func (v *StoryValidator) validateScene(s *story.Story, scene *story.Scene, sceneID string) {
	for flagName := range scene.InitialFlags {
		if _, declared := s.Flags[flagName]; !declared && !strings.HasPrefix(flagName, "at_") {
			v.addError(fmt.Sprintf("scene %s sets undeclared initial flag '%s'", sceneID, flagName))
		}
	}

	for _, t := range scene.Transitions {
		v.validateIDFormat("transition target", t.Target)
		v.validateCondition(s, t.If, fmt.Sprintf("transition %s -> %s", sceneID, t.Target))
		if t.Target == sceneID {
			v.addError(fmt.Sprintf("scene %s declares a self transition", sceneID))
		}
	}
}

// validateCondition checks that every flag a condition references is either
// declared in the story or a location flag.
func (v *StoryValidator) validateCondition(s *story.Story, c *story.Condition, context string) {
	if c == nil {
		return
	}
	for _, term := range c.Terms() {
		name := strings.TrimPrefix(term, "!")
		if name == "" {
			v.addError(fmt.Sprintf("%s has an empty flag reference", context))
			continue
		}
		if !isValidID(strings.TrimPrefix(name, "at_")) {
			v.addError(fmt.Sprintf("%s references flag '%s' - should be lowercase snake_case", context, name))
			continue
		}
		if strings.HasPrefix(name, "at_") {
			if _, ok := s.Scenes[strings.TrimPrefix(name, "at_")]; !ok {
				v.addError(fmt.Sprintf("%s references location flag '%s' for an unknown scene", context, name))
			}
			continue
		}
		if _, declared := s.Flags[name]; !declared {
			v.addError(fmt.Sprintf("%s references undeclared flag '%s'", context, name))
		}
	}
}

func (v *StoryValidator) validateIDFormat(fieldName, id string) {
	if id == "" {
		return
	}
	if !isValidID(id) {
		v.addError(fmt.Sprintf("%s '%s' should be lowercase snake_case", fieldName, id))
	}
}

func (v *StoryValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

var validIDRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)

func isValidID(id string) bool {
	return validIDRegex.MatchString(id)
}
