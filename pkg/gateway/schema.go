package gateway

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// MessagePayloadSchema validates inbound "message" frame data.
const MessagePayloadSchema = `{
	"type": "object",
	"required": ["message", "sessionId"],
	"properties": {
		"message": {
			"type": "string",
			"minLength": 1
		},
		"sessionId": {
			"type": "string",
			"minLength": 1
		}
	}
}`

var messageSchemaLoader = gojsonschema.NewStringLoader(MessagePayloadSchema)

// validateMessagePayload checks an inbound message payload against the
// schema before it reaches the orchestrator.
func validateMessagePayload(data []byte) error {
	result, err := gojsonschema.Validate(messageSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("invalid message payload: %s", strings.Join(errs, "; "))
	}

	return nil
}
