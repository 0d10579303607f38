package cue

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schemas/*.cue
var schemaFS embed.FS

// Schema names. Each names schemas/<name>.cue, which defines #<Name>.
const (
	SchemaManifest = "manifest"
	SchemaRequest  = "request"
)

// ValidationError is one schema violation.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// Validator handles CUE validation
type Validator struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
}

// LoadSchemas compiles every embedded schema.
func (v *Validator) LoadSchemas() error {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return fmt.Errorf("could not read embedded schemas: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".cue" {
			continue
		}
		content, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}

		inst := v.ctx.CompileBytes(content, cue.Filename(entry.Name()))
		if instErr := inst.Err(); instErr != nil {
			return fmt.Errorf("compile schema %s: %w", entry.Name(), instErr)
		}

		// manifest.cue -> manifest
		v.schemas[strings.TrimSuffix(entry.Name(), ".cue")] = inst.Value()
	}

	if len(v.schemas) == 0 {
		return fmt.Errorf("no CUE schemas embedded")
	}
	return nil
}

// MustLoad returns a Validator with every schema loaded. It panics if the
// embedded schemas do not compile.
func MustLoad() *Validator {
	v := NewValidator()
	if err := v.LoadSchemas(); err != nil {
		panic(err)
	}
	return v
}

// ValidateManifest validates a decoded plugin manifest.
func (v *Validator) ValidateManifest(data map[string]any) ([]ValidationError, error) {
	return v.Validate(SchemaManifest, data)
}

// ValidateRequest validates one decoded server request.
func (v *Validator) ValidateRequest(data map[string]any) ([]ValidationError, error) {
	return v.Validate(SchemaRequest, data)
}

// Validate checks data against the named schema. Schema violations are
// returned as ValidationErrors; the error return is reserved for an
// unknown schema or data that cannot be encoded.
func (v *Validator) Validate(schemaType string, data map[string]any) ([]ValidationError, error) {
	schema, ok := v.schemas[schemaType]
	if !ok {
		return nil, fmt.Errorf("schema %q not loaded", schemaType)
	}

	dataValue := v.ctx.Encode(data)
	if encErr := dataValue.Err(); encErr != nil {
		return nil, fmt.Errorf("error encoding data: %w", encErr)
	}

	defPath := cue.ParsePath("#" + strings.ToUpper(schemaType[:1]) + schemaType[1:])
	def := schema.LookupPath(defPath)
	if !def.Exists() {
		return nil, fmt.Errorf("schema %q does not define %s", schemaType, defPath)
	}

	unified := def.Unify(dataValue)
	if err := unified.Err(); err != nil {
		return extractErrorsFromCUE(err), nil
	}

	// Concreteness catches missing required fields.
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return extractErrorsFromCUE(err), nil
	}
	return nil, nil
}

// extractErrorsFromCUE flattens a CUE error list into path/message pairs.
func extractErrorsFromCUE(err error) []ValidationError {
	var out []ValidationError
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if key := ve.Error(); !seen[key] {
			seen[key] = true
			out = append(out, ve)
		}
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// Join renders validation errors as a single error, or nil.
func Join(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}
