package livehttp

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaPlaceOrder   = "place_order.json"
	schemaOpenPosition = "open_position.json"
	schemaClose        = "close_position.json"
	schemaProtection   = "protection.json"
	schemaPaperPrice   = "paper_price.json"
)

// schemaSet holds the compiled request body schemas keyed by file name.
type schemaSet map[string]*jsonschema.Schema

func loadSchemas() (schemaSet, error) {
	files, err := fs.Glob(schemaFS, "schemas/*.json")
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	names := make([]string, 0, len(files))
	for _, file := range files {
		raw, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, err
		}
		name := path.Base(file)
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		names = append(names, name)
	}
	set := make(schemaSet, len(names))
	for _, name := range names {
		compiled, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		set[name] = compiled
	}
	return set, nil
}

// validate checks raw against the named schema and returns a short message
// naming the first offending field.
func (s schemaSet) validate(name string, raw []byte) error {
	schema, ok := s[name]
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid request: %s", describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := strings.TrimPrefix(ve.InstanceLocation, "/")
	if loc == "" {
		return ve.Message
	}
	return loc + ": " + ve.Message
}
