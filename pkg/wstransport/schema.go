package wstransport

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// inboundMessageSchema describes the payload of an inbound message frame.
var inboundMessageSchema = map[string]interface{}{
	"type":     "object",
	"required": []string{"conversationId", "message", "agentId"},
	"properties": map[string]interface{}{
		"conversationId": map[string]interface{}{"type": "string", "minLength": 1},
		"message":        map[string]interface{}{"type": "string"},
		"agentId":        map[string]interface{}{"type": "string"},
	},
}

func compileInboundSchema() (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(inboundMessageSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile inbound message schema: %w", err)
	}
	return schema, nil
}

func validatePayload(schema *gojsonschema.Schema, payload []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("invalid message payload: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid message payload: %s", strings.Join(problems, "; "))
	}

	return nil
}
