// Package validation provides pure input validators used before any
// request-derived value reaches a process launcher or the filesystem.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Valid module/service name: alphanumeric, dash, underscore, max 64 chars
	moduleNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	// Dangerous characters that should never appear in identifiers
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", " ", "\t", "\n", "\r", "/", "*", "?", "!", "#", "~", "\x00"}
)

// Error is a typed validation failure. Callers map it to a 400 response
// and a "violation" audit event.
type Error struct {
	Kind  string // "module_name", "path", "verb"
	Value string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Msg)
}

// IsValidationError reports whether err is a validation Error.
func IsValidationError(err error) bool {
	_, ok := err.(*Error)
	return ok
}

// ValidateModuleName validates a module or service name.
func ValidateModuleName(name string) error {
	if name == "" {
		return &Error{Kind: "module_name", Value: name, Msg: "name cannot be empty"}
	}

	if len(name) > 64 {
		return &Error{Kind: "module_name", Value: name, Msg: "name too long (max 64 characters)"}
	}

	if strings.Contains(name, "..") {
		return &Error{Kind: "module_name", Value: name, Msg: "name contains path traversal sequence"}
	}

	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return &Error{Kind: "module_name", Value: name, Msg: fmt.Sprintf("name contains forbidden character %q", char)}
		}
	}

	if !moduleNameRegex.MatchString(name) {
		return &Error{Kind: "module_name", Value: name, Msg: "name must be alphanumeric with -_ only"}
	}

	return nil
}

// ValidateServiceUnit validates a systemd unit name from the registry.
// Unit names allow a dot for the unit type suffix but nothing else
// beyond the module name grammar.
func ValidateServiceUnit(unit string) error {
	if unit == "" {
		return &Error{Kind: "service_unit", Value: unit, Msg: "unit cannot be empty"}
	}

	base := strings.TrimSuffix(unit, ".service")
	if base == unit {
		return &Error{Kind: "service_unit", Value: unit, Msg: "unit must end in .service"}
	}

	if err := ValidateModuleName(base); err != nil {
		return &Error{Kind: "service_unit", Value: unit, Msg: "unit base name is not a valid identifier"}
	}

	return nil
}

// ValidatePath resolves a path to its canonical absolute form and checks
// that it is a descendant of one of the allowed root directories. Symlink
// resolution uses resolve; pass filepath.EvalSymlinks in production and a
// stub in tests. Any escape via .. or symlink fails closed.
func ValidatePath(path string, allowedRoots []string, resolve func(string) (string, error)) (string, error) {
	if path == "" {
		return "", &Error{Kind: "path", Value: path, Msg: "path cannot be empty"}
	}

	if strings.Contains(path, "\x00") {
		return "", &Error{Kind: "path", Value: path, Msg: "null byte in path"}
	}

	if !filepath.IsAbs(path) {
		return "", &Error{Kind: "path", Value: path, Msg: "path must be absolute"}
	}

	clean := filepath.Clean(path)

	resolved, err := resolve(clean)
	if err != nil {
		return "", &Error{Kind: "path", Value: path, Msg: "path cannot be resolved"}
	}

	for _, root := range allowedRoots {
		cleanRoot := filepath.Clean(root)
		if resolved == cleanRoot || strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
			return resolved, nil
		}
	}

	return "", &Error{Kind: "path", Value: path, Msg: "path not under an allowed directory"}
}

// Lifecycle verbs accepted for managed modules. The map is the complete
// set of argument templates; anything else is rejected before execution.
var moduleVerbs = map[string][]string{
	"start":   {"systemctl", "start"},
	"stop":    {"systemctl", "stop"},
	"restart": {"systemctl", "restart"},
	"status":  {"systemctl", "is-active"},
}

// ModuleCommand builds the argument vector for a lifecycle verb applied
// to a service unit. Both inputs must already be validated; the verb is
// checked against the closed template map here.
func ModuleCommand(verb, serviceUnit string) ([]string, error) {
	template, ok := moduleVerbs[verb]
	if !ok {
		return nil, &Error{Kind: "verb", Value: verb, Msg: "unknown lifecycle verb"}
	}

	if err := ValidateServiceUnit(serviceUnit); err != nil {
		return nil, err
	}

	argv := make([]string, 0, len(template)+1)
	argv = append(argv, template...)
	argv = append(argv, serviceUnit)
	return argv, nil
}

// ValidateAllowlist checks that a value is one of the allowed values.
func ValidateAllowlist(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &Error{Kind: "allowlist", Value: value, Msg: "value not in allowlist"}
}

// SanitizeString strips dangerous characters from a string for display.
func SanitizeString(s string) string {
	for _, char := range dangerousChars {
		if char == " " {
			continue
		}
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}
