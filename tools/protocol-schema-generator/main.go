// Command protocol-schema-generator emits JSON Schemas for the relay wire
// protocol messages. Editor-side clients in other languages validate their
// codecs against these schemas.
package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/grovetools/relay/pkg/protocol"
	"github.com/invopop/jsonschema"
)

func main() {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		FieldNameTag:   "json",
	}

	messages := []struct {
		name        string
		title       string
		description string
		value       any
	}{
		{"envelope", "Relay Envelope", "Outer frame for every relay WebSocket message.", &protocol.Envelope{}},
		{"state-update", "Relay State Update", "Full snapshot or incremental diff pushed to clients.", &protocol.StateUpdate{}},
		{"command-request", "Relay Command Request", "Client request to execute an allowlisted command.", &protocol.CommandRequest{}},
		{"command-result", "Relay Command Result", "Outcome of a command request, correlated by requestId.", &protocol.CommandResult{}},
		{"preferences", "Relay Client Preferences", "Delivery contract declared by a client session.", &protocol.Preferences{}},
	}

	outputDir := "schema/protocol"
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		log.Fatalf("Error creating schema directory: %v", err)
	}

	for _, msg := range messages {
		schema := r.Reflect(msg.value)
		schema.Title = msg.title
		schema.Description = msg.description

		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			log.Fatalf("Error marshaling %s schema: %v", msg.name, err)
		}

		outputPath := filepath.Join(outputDir, msg.name+".schema.json")
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			log.Fatalf("Error writing %s: %v", outputPath, err)
		}
		log.Printf("Generated %s", outputPath)
	}
}
