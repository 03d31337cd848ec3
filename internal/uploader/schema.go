package uploader

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const recordSchemaURL = "https://chatsync.local/schema/record.json"

const recordSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["collectedAt", "chatId", "chatUrl", "chatTitle", "pageTitle", "messages", "meta"],
	"properties": {
		"collectedAt": {"type": "string", "minLength": 1},
		"chatId": {"type": "string", "minLength": 1},
		"chatUrl": {"type": "string"},
		"chatTitle": {"type": "string"},
		"pageTitle": {"type": "string"},
		"messages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["index", "role", "text", "html"],
				"properties": {
					"index": {"type": "integer", "minimum": 0},
					"role": {"enum": ["user", "assistant"]},
					"text": {"type": "string"},
					"html": {"type": "string"}
				}
			}
		},
		"meta": {
			"type": "object",
			"required": ["source", "fingerprint"],
			"properties": {
				"source": {"enum": ["api", "dom", "batch"]},
				"fingerprint": {"type": "string", "minLength": 1}
			}
		}
	}
}`

var compiledRecordSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(recordSchema))
	if err != nil {
		panic(fmt.Sprintf("record schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(recordSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("record schema: %v", err))
	}
	return c.MustCompile(recordSchemaURL)
}

// validateBody checks an encoded record against the record schema.
func validateBody(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return compiledRecordSchema.Validate(inst)
}
