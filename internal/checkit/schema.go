package checkit

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"checkit/api/internal/review"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://checkit.local/schemas/"

const (
	schemaVocabularyChanges = "vocabulary_changes.json"
	schemaChange            = "change.json"
	schemaPublication       = "publication.json"
	schemaPublicationList   = "publication_list.json"
	schemaUser              = "user.json"
)

type schemaSet map[string]*jsonschema.Schema

func loadSchemas() (schemaSet, error) {
	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	for _, entry := range entries {
		raw, err := schemaFiles.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(schemaBaseURL+entry.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", entry.Name(), err)
		}
	}

	set := make(schemaSet, len(entries))
	for _, entry := range entries {
		compiled, err := compiler.Compile(schemaBaseURL + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", entry.Name(), err)
		}
		set[entry.Name()] = compiled
	}
	return set, nil
}

// decode validates body against the named schema before unmarshalling it
// into out. Both failures are reported as ErrMalformedPayload.
func (s schemaSet) decode(name string, body []byte, out any) error {
	schema, ok := s[name]
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, review.ErrMalformedPayload)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, review.ErrMalformedPayload)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, review.ErrMalformedPayload)
	}
	return nil
}
