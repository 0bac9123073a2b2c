// Package validation checks VDA5050 documents against JSON schemas keyed by
// message kind and protocol version.
package validation

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kilianp07/vda5050/core/protocol"
)

//go:embed schemas/*.schema.json
var defaultSchemas embed.FS

// DefaultVersion is the key the embedded schema set is registered under.
const DefaultVersion = "2"

// FieldError is one schema violation.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Result is the outcome of validating one document. Errors keep the order
// reported by the schema library.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Error wraps an invalid Result so it can travel as an error value.
type Error struct {
	Kind   protocol.MessageKind
	Result Result
}

func (e *Error) Error() string {
	if len(e.Result.Errors) == 0 {
		return fmt.Sprintf("invalid %s message", e.Kind)
	}
	first := e.Result.Errors[0]
	return fmt.Sprintf("invalid %s message: %s: %s (%d violations)", e.Kind, first.Path, first.Message, len(e.Result.Errors))
}

// Validator holds compiled schema sets. It is safe for concurrent use.
type Validator struct {
	enabled bool
	mu      sync.RWMutex
	sets    map[string]map[protocol.MessageKind]*gojsonschema.Schema
}

// New returns an enabled validator with the embedded VDA5050 2.x schemas
// registered under DefaultVersion.
func New() (*Validator, error) {
	v := &Validator{enabled: true, sets: make(map[string]map[protocol.MessageKind]*gojsonschema.Schema)}
	for _, k := range protocol.Kinds() {
		raw, err := defaultSchemas.ReadFile("schemas/" + k.Token() + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("read embedded schema %s: %w", k, err)
		}
		if err := v.Register(DefaultVersion, k, raw); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Disabled returns a validator that reports itself as disabled. Callers are
// expected to skip validation entirely; Validate still answers valid.
func Disabled() *Validator {
	return &Validator{sets: make(map[string]map[protocol.MessageKind]*gojsonschema.Schema)}
}

// Enabled reports whether documents should be validated at all.
func (v *Validator) Enabled() bool { return v != nil && v.enabled }

// Register compiles schema and stores it for kind k under version.
func (v *Validator) Register(version string, k protocol.MessageKind, schema []byte) error {
	if !k.Valid() {
		return fmt.Errorf("register schema: unknown kind %s", k)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return fmt.Errorf("compile %s schema for version %q: %w", k, version, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	set, ok := v.sets[version]
	if !ok {
		set = make(map[protocol.MessageKind]*gojsonschema.Schema)
		v.sets[version] = set
	}
	set[k] = compiled
	return nil
}

// LoadDir registers every <kindToken>.schema.json found in dir under
// version. Kinds without a file keep resolving to the less specific
// versions, so a directory may override only some kinds.
func (v *Validator) LoadDir(version, dir string) error {
	var loaded int
	for _, k := range protocol.Kinds() {
		path := filepath.Join(dir, k.Token()+".schema.json")
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read schema %s: %w", path, err)
		}
		if err := v.Register(version, k, raw); err != nil {
			return err
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("no schema files in %s", dir)
	}
	return nil
}

// Validate checks raw against the schema for k. The version is matched
// exactly first, then by major.minor, then by major; the first set holding
// k wins. A missing schema is reported as *protocol.SchemaNotFoundError,
// never as an invalid Result.
func (v *Validator) Validate(k protocol.MessageKind, version string, raw []byte) (Result, error) {
	if !v.Enabled() {
		return Result{Valid: true}, nil
	}
	schema, err := v.lookup(k, version)
	if err != nil {
		return Result{}, err
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		// The document is not JSON at all.
		return Result{Errors: []FieldError{{Path: "(root)", Message: err.Error()}}}, nil
	}
	if res.Valid() {
		return Result{Valid: true}, nil
	}
	out := Result{Errors: make([]FieldError, 0, len(res.Errors()))}
	for _, desc := range res.Errors() {
		out.Errors = append(out.Errors, FieldError{Path: desc.Field(), Message: desc.Description()})
	}
	return out, nil
}

// Check validates raw and folds an invalid result into *Error.
func (v *Validator) Check(k protocol.MessageKind, version string, raw []byte) error {
	res, err := v.Validate(k, version, raw)
	if err != nil {
		return err
	}
	if !res.Valid {
		return &Error{Kind: k, Result: res}
	}
	return nil
}

func (v *Validator) lookup(k protocol.MessageKind, version string) (*gojsonschema.Schema, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, candidate := range versionCandidates(version) {
		if s, ok := v.sets[candidate][k]; ok {
			return s, nil
		}
	}
	return nil, &protocol.SchemaNotFoundError{Kind: k, Version: version}
}

// versionCandidates returns "2.1.0", "2.1", "2" for "2.1.0".
func versionCandidates(version string) []string {
	parts := strings.Split(version, ".")
	out := make([]string, 0, len(parts))
	for i := len(parts); i > 0; i-- {
		c := strings.Join(parts[:i], ".")
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
