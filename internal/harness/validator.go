package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Validator accumulates pass/fail messages from a series of checks. Every
// check returns the validator so calls can be chained.
type Validator struct {
	passed []string
	failed []string
}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) pass(format string, args ...any) {
	v.passed = append(v.passed, "✓ "+fmt.Sprintf(format, args...))
}

func (v *Validator) fail(format string, args ...any) {
	v.failed = append(v.failed, "✗ "+fmt.Sprintf(format, args...))
}

// Results returns the passed and failed messages in the order recorded.
func (v *Validator) Results() (passed, failed []string) {
	return v.passed, v.failed
}

func (v *Validator) CheckSkill(skill, summary string) *Validator {
	if strings.Contains(summary, skill) {
		v.pass("Consulted %s skill", skill)
	} else {
		v.fail("Did not consult %s skill", skill)
	}
	return v
}

func (v *Validator) CheckFileExists(name, dir, description string) *Validator {
	if !fileExists(filepath.Join(dir, name)) {
		v.fail("%s not created", name)
		return v
	}
	if description != "" {
		v.pass("Created %s (%s)", name, description)
	} else {
		v.pass("Created %s", name)
	}
	return v
}

// ContentCheck inspects trimmed file content and reports a verdict with a
// message.
type ContentCheck func(content string) (bool, string)

func (v *Validator) CheckFileContent(name, dir string, check ContentCheck) *Validator {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		v.fail("%s not found", name)
		return v
	}
	ok, message := check(strings.TrimSpace(string(data)))
	if ok {
		v.pass("%s", message)
	} else {
		v.fail("%s", message)
	}
	return v
}

// CheckUUIDFormat requires the file to hold exactly one hyphenated UUID.
func (v *Validator) CheckUUIDFormat(name, dir string) *Validator {
	return v.CheckFileContent(name, dir, func(content string) (bool, string) {
		if len(content) == 36 && uuid.Validate(content) == nil {
			return true, fmt.Sprintf("Valid UUID: %s...", content[:8])
		}
		return false, fmt.Sprintf("Invalid UUID: %s", content)
	})
}

// JSONCheck validates a decoded JSON document.
type JSONCheck func(data any) (bool, string)

func (v *Validator) CheckJSONFile(name, dir string, check JSONCheck) *Validator {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		v.fail("%s not found", name)
		return v
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		v.fail("%s is invalid JSON: %v", name, err)
		return v
	}
	v.pass("%s is valid JSON", name)
	if check == nil {
		return v
	}
	if ok, message := check(data); ok {
		v.pass("%s", message)
	} else {
		v.fail("%s", message)
	}
	return v
}

// CheckPatternsPresent records the patterns found and, separately, any that
// are missing.
func (v *Validator) CheckPatternsPresent(patterns []string, summary, description string) *Validator {
	var found, missing []string
	for _, p := range patterns {
		if strings.Contains(summary, p) {
			found = append(found, p)
		} else {
			missing = append(missing, p)
		}
	}
	desc := describe(description)
	if len(found) > 0 {
		v.pass("Found patterns%s: %s", desc, strings.Join(found, ", "))
	}
	if len(missing) > 0 {
		v.fail("Missing patterns%s: %s", desc, strings.Join(missing, ", "))
	}
	return v
}

func (v *Validator) CheckPatternsAbsent(patterns []string, summary, description string) *Validator {
	var found []string
	for _, p := range patterns {
		if strings.Contains(summary, p) {
			found = append(found, p)
		}
	}
	desc := describe(description)
	if len(found) == 0 {
		v.pass("Avoided patterns%s", desc)
	} else {
		v.fail("Found forbidden patterns%s: %s", desc, strings.Join(found, ", "))
	}
	return v
}

func describe(description string) string {
	if description == "" {
		return ""
	}
	return " (" + description + ")"
}
