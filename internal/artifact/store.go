// Package artifact persists script and function files for the engine.
//
// The store is a flat directory of <name>.m files. Names are validated
// against MATLAB identifier rules before anything touches the filesystem,
// and writes are whole-file atomic replacements so a racing reader never
// observes a truncated artifact. Concurrent writes to the same name are
// last-writer-wins; artifacts are never deleted by this system.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/oklog/ulid/v2"

	"github.com/numlab/matlab-mcp-go/internal/errors"
)

// Ext is the artifact file extension.
const Ext = ".m"

// maxNameLength mirrors MATLAB's namelengthmax.
const maxNameLength = 63

// identifierRe matches a legal MATLAB identifier.
var identifierRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// functionDeclRe matches a function declaration line and captures the
// declared function name. Handles zero, one, and bracketed multiple output
// forms.
var functionDeclRe = regexp.MustCompile(
	`(?m)^[ \t]*function[ \t]+(?:\[[^\]]*\][ \t]*=[ \t]*|[A-Za-z][A-Za-z0-9_]*[ \t]*=[ \t]*)?([A-Za-z][A-Za-z0-9_]*)[ \t]*(\(|$|\r)`)

// reservedWords are MATLAB keywords that cannot name an artifact.
var reservedWords = map[string]struct{}{
	"break": {}, "case": {}, "catch": {}, "classdef": {}, "continue": {},
	"else": {}, "elseif": {}, "end": {}, "for": {}, "function": {},
	"global": {}, "if": {}, "otherwise": {}, "parfor": {}, "persistent": {},
	"return": {}, "spmd": {}, "switch": {}, "try": {}, "while": {},
}

// Store persists named script and function artifacts in a single directory.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore creates a store rooted at dir. The directory is created on the
// first write, not here.
func NewStore(dir string, log *slog.Logger) *Store {
	return &Store{
		dir: dir,
		log: log.With("component", "artifact"),
	}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// WriteScript validates name and persists body as <dir>/<name>.m,
// overwriting any previous artifact of that name.
func (s *Store) WriteScript(name, body string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	return s.write(name, body)
}

// WriteFunction is WriteScript plus a definition check: body must contain a
// parseable function declaration whose declared name matches name. Nothing
// is written when validation fails.
func (s *Store) WriteFunction(name, body string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	match := functionDeclRe.FindStringSubmatch(body)
	if match == nil {
		return "", &errors.InvalidDefinitionError{
			Name:   name,
			Reason: "no function declaration found",
		}
	}

	if declared := match[1]; declared != name {
		return "", &errors.InvalidDefinitionError{
			Name:   name,
			Reason: fmt.Sprintf("declared function name %q does not match file name", declared),
		}
	}

	return s.write(name, body)
}

// Resolve returns the absolute path of an existing artifact.
func (s *Store) Resolve(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, name+Ext)
	if _, err := os.Stat(path); err != nil {
		return "", &errors.NotFoundError{Name: name, Dir: s.dir}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	return abs, nil
}

// write persists body atomically: the content lands in a temp file in the
// store directory and is renamed over the target.
func (s *Store) write(name, body string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create store directory: %w", err)
	}

	path := filepath.Join(s.dir, name+Ext)
	tmp := path + ".tmp-" + ulid.Make().String()

	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil { //nolint:gosec // artifacts are shareable source files
		return "", fmt.Errorf("write artifact: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)

		return "", fmt.Errorf("replace artifact: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	s.log.Debug("Wrote artifact", "name", name, "path", abs, "bytes", len(body))

	return abs, nil
}

// ValidateName checks MATLAB identifier rules: alphanumeric or underscore,
// starting with a letter, at most 63 characters, not a reserved word.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &errors.InvalidNameError{Name: name, Reason: "name is empty"}
	case len(name) > maxNameLength:
		return &errors.InvalidNameError{
			Name:   name,
			Reason: fmt.Sprintf("name exceeds %d characters", maxNameLength),
		}
	case !identifierRe.MatchString(name):
		return &errors.InvalidNameError{
			Name:   name,
			Reason: "must start with a letter and contain only letters, digits, and underscores",
		}
	}

	if _, reserved := reservedWords[name]; reserved {
		return &errors.InvalidNameError{Name: name, Reason: "name is a reserved word"}
	}

	return nil
}
