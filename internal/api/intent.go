package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/tilesim/internal/engine"
	"github.com/talgya/tilesim/internal/job"
	"github.com/talgya/tilesim/internal/structure"
	"github.com/talgya/tilesim/internal/unit"
	"github.com/talgya/tilesim/internal/world"
)

//go:embed intent.schema.json
var intentSchemaJSON string

// intentSchema is compiled once; the schema is part of the binary.
var intentSchema = jsonschema.MustCompileString("intent.schema.json", intentSchemaJSON)

// intentRequest is the wire form of every intent.
type intentRequest struct {
	Type      string  `json:"type"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	UnitID    uint64  `json:"unit_id"`
	Structure string  `json:"structure"`
	Kind      string  `json:"kind"`
	Priority  *int    `json:"priority"` // Omitted means job.DefaultPriority
}

// decodeIntent validates a request body against the schema and converts it.
func decodeIntent(body []byte) (engine.Intent, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if err := intentSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	var req intentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid intent: %w", err)
	}

	switch req.Type {
	case "place_building":
		t, err := structure.ParseType(req.Structure)
		if err != nil {
			return nil, err
		}
		return engine.PlaceBuilding{X: int(req.X), Y: int(req.Y), Type: t}, nil

	case "interact":
		return engine.Interact{
			Tile:   world.Coord{X: int(req.X), Y: int(req.Y)},
			UnitID: unit.ID(req.UnitID),
		}, nil

	case "spawn_unit":
		return engine.SpawnUnit{X: req.X, Y: req.Y}, nil

	case "queue_job":
		kind, err := job.ParseKind(req.Kind)
		if err != nil {
			return nil, err
		}
		var t structure.Type
		if req.Structure != "" {
			if t, err = structure.ParseType(req.Structure); err != nil {
				return nil, err
			}
		}
		priority := job.DefaultPriority
		if req.Priority != nil {
			priority = *req.Priority
		}
		return engine.QueueJob{Kind: kind, X: int(req.X), Y: int(req.Y), Priority: priority, Type: t}, nil
	}
	return nil, fmt.Errorf("%w: %q", engine.ErrUnknownIntent, req.Type)
}
