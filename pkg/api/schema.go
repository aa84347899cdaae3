package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	decisionSchemaURL = "https://nyaya.ai/schemas/decision.schema.json"
	feedbackSchemaURL = "https://nyaya.ai/schemas/feedback.schema.json"
)

// requestSchemas holds the compiled request-body schemas.
type requestSchemas struct {
	decision *jsonschema.Schema
	feedback *jsonschema.Schema
}

func compileSchemas() (*requestSchemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	for url, file := range map[string]string{
		decisionSchemaURL: "schemas/decision.schema.json",
		feedbackSchemaURL: "schemas/feedback.schema.json",
	} {
		data, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	decision, err := c.Compile(decisionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile decision schema: %w", err)
	}
	feedback, err := c.Compile(feedbackSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile feedback schema: %w", err)
	}
	return &requestSchemas{decision: decision, feedback: feedback}, nil
}

// validateBody checks raw JSON against s.
func validateBody(s *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return s.Validate(doc)
}
