package parse

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce  sync.Once
	schemaValue cue.Value
	schemaErr   error
)

// configSchema compiles the embedded schema once and returns the
// #Config definition that source documents are validated against.
func configSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compiling source schema: %w", err)
			return
		}
		def := v.LookupPath(cue.ParsePath("#Config"))
		if err := def.Err(); err != nil {
			schemaErr = fmt.Errorf("looking up #Config: %w", err)
			return
		}
		schemaValue = def
	})
	return schemaValue, schemaErr
}

// validateSchema checks one source document's structure against the
// embedded schema. It reports the first constraint violation with CUE's
// field-level message.
func validateSchema(data []byte) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}
	return cueyaml.Validate(data, schema)
}
