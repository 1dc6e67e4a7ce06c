// Package schema loads and caches the JSON Schemas that bound the event
// envelope and each event_type's payload. Compilation happens once, at
// startup; lookups thereafter are map reads, so Validate never touches disk.
//
// Import Path: servicebox.io/fsmcore/internal/schema
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"servicebox.io/fsmcore/internal/domain"
)

//go:embed schemas
var schemaFS embed.FS

const envelopeSchemaURL = "https://fsmcore.servicebox.io/schemas/envelope.schema.json"

// payloadSchemaFiles mirrors the original event_type -> payload schema index
// (schemas/events/index.json in the source system), expressed as a Go map
// instead of a second file to look up.
var payloadSchemaFiles = map[domain.EventType]string{
	domain.EventWorkOrderCreated:   "schemas/events/work_order_created.schema.json",
	domain.EventWorkOrderAssigned:  "schemas/events/work_order_assigned.schema.json",
	domain.EventWorkOrderCancelled: "schemas/events/work_order_cancelled.schema.json",
	domain.EventWorkOrderClosed:    "schemas/events/work_order_closed.schema.json",

	domain.EventWorkDispatched:    "schemas/events/work_dispatched.schema.json",
	domain.EventWorkArrivedOnSite: "schemas/events/work_arrived_on_site.schema.json",
	domain.EventWorkStarted:       "schemas/events/work_started.schema.json",
	domain.EventWorkPaused:        "schemas/events/work_paused.schema.json",
	domain.EventWorkResumed:       "schemas/events/work_resumed.schema.json",
	domain.EventWorkCompleted:     "schemas/events/work_completed.schema.json",

	domain.EventPartReserved:  "schemas/events/part_event.schema.json",
	domain.EventPartInstalled: "schemas/events/part_event.schema.json",
	domain.EventPartConsumed:  "schemas/events/part_event.schema.json",

	domain.EventEvidencePhotoAdded:        "schemas/events/evidence_attached.schema.json",
	domain.EventEvidenceDocumentAdded:     "schemas/events/evidence_attached.schema.json",
	domain.EventEvidenceSignatureCaptured: "schemas/events/evidence_attached.schema.json",

	domain.EventSLAAtRisk:         "schemas/events/sla_event.schema.json",
	domain.EventSLABreached:       "schemas/events/sla_event.schema.json",
	domain.EventSLARecovered:      "schemas/events/sla_event.schema.json",
	domain.EventSLABreachAccepted: "schemas/events/sla_event.schema.json",
}

// Violation is a single schema validation failure, ordered by the JSON
// pointer path it was found at.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Registry holds the compiled envelope schema and the compiled payload
// schema for every known event_type. It never mutates the objects it
// validates.
type Registry struct {
	envelope *jsonschema.Schema
	payloads map[domain.EventType]*jsonschema.Schema
}

// NewRegistry compiles every embedded schema once. An error here is a
// startup-fatal programming error, not a runtime condition.
func NewRegistry() (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := addResource(compiler, envelopeSchemaURL, "schemas/envelope.schema.json"); err != nil {
		return nil, err
	}
	envelope, err := compiler.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}

	payloads := make(map[domain.EventType]*jsonschema.Schema, len(payloadSchemaFiles))
	compiledByFile := make(map[string]*jsonschema.Schema, len(payloadSchemaFiles))
	for eventType, file := range payloadSchemaFiles {
		compiled, ok := compiledByFile[file]
		if !ok {
			url := "https://fsmcore.servicebox.io/" + file
			c := jsonschema.NewCompiler()
			c.Draft = jsonschema.Draft2020
			if err := addResource(c, url, file); err != nil {
				return nil, err
			}
			compiled, err = c.Compile(url)
			if err != nil {
				return nil, fmt.Errorf("compile payload schema %s: %w", file, err)
			}
			compiledByFile[file] = compiled
		}
		payloads[eventType] = compiled
	}

	return &Registry{envelope: envelope, payloads: payloads}, nil
}

func addResource(c *jsonschema.Compiler, url, file string) error {
	raw, err := schemaFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read embedded schema %s: %w", file, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse embedded schema %s: %w", file, err)
	}
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("load embedded schema %s: %w", file, err)
	}
	return nil
}

// ValidateEnvelope validates the raw envelope object (decoded with
// json.Unmarshal into map[string]any so jsonschema sees native JSON types)
// against the root envelope schema, returning violations ordered by path.
func (r *Registry) ValidateEnvelope(obj map[string]any) []Violation {
	return collectViolations(r.envelope.Validate(obj))
}

// ValidatePayload validates a decoded payload object against the schema
// registered for event_type. The second return value is false when
// event_type is not known to the registry at all (ERR_GUARD_FAILED case).
func (r *Registry) ValidatePayload(eventType domain.EventType, obj map[string]any) ([]Violation, bool) {
	s, ok := r.payloads[eventType]
	if !ok {
		return nil, false
	}
	return collectViolations(s.Validate(obj)), true
}

// HasEventType reports whether event_type has a registered payload schema.
func (r *Registry) HasEventType(eventType domain.EventType) bool {
	_, ok := r.payloads[eventType]
	return ok
}

func collectViolations(err error) []Violation {
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Violation{{Message: err.Error()}}
	}
	var out []Violation
	flattenValidationError(ve, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func flattenValidationError(ve *jsonschema.ValidationError, out *[]Violation) {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "/"
		}
		*out = append(*out, Violation{Path: path, Message: ve.Message})
		return
	}
	for _, cause := range ve.Causes {
		flattenValidationError(cause, out)
	}
}
