// Package prompt loads stage templates and binds parameters into them.
//
// Templates use uppercase placeholders in two historical forms, [ROLE] and
// {{ROLE}}. Both are substituted; any placeholder left unbound after
// substitution is an error rather than silent passthrough text.
package prompt

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\[([A-Z][A-Z0-9_]*)\]|\{\{([A-Z][A-Z0-9_]*)\}\}`)

// LoadTemplate reads a template file.
func LoadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to load prompt template %s: %w", path, err)
	}
	return string(data), nil
}

// Substitute replaces every [KEY] and {{KEY}} placeholder in template with
// the corresponding value from params. Returns an error naming the unbound
// keys if any placeholder survives substitution.
func Substitute(template string, params map[string]string) (string, error) {
	result := template
	for key, value := range params {
		result = strings.ReplaceAll(result, "["+key+"]", value)
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}

	if unbound := unboundKeys(result); len(unbound) > 0 {
		return "", fmt.Errorf("unbound template placeholders: %s", strings.Join(unbound, ", "))
	}
	return result, nil
}

// unboundKeys returns the sorted, deduplicated placeholder keys still
// present in text.
func unboundKeys(text string) []string {
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		key := m[1]
		if key == "" {
			key = m[2]
		}
		seen[key] = true
	}
	if len(seen) == 0 {
		return nil
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadRoleSkills reads the skills reference for a role. A missing or
// unreadable file degrades to a generic line so generation can proceed.
func LoadRoleSkills(path, roleName string) string {
	if path == "" {
		return genericSkills(roleName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return genericSkills(roleName)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return genericSkills(roleName)
	}
	return text
}

func genericSkills(roleName string) string {
	return fmt.Sprintf("Core professional skills and competencies for a %s.", roleName)
}
