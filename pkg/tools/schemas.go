package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// mustSchema parses a literal schema; invalid literals are programmer
// error and fail at init.
func mustSchema(raw string) *jsonschema.Schema {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		panic(fmt.Sprintf("invalid tool schema: %v", err))
	}
	return &s
}

// Input schemas for the exposed tools. Kept as literal JSON Schema so
// the wire shape is reviewable in one place.

var analyzeSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "api_key": {"type": "string", "description": "API key for this call; defaults to the configured DISCOVERY_API_KEY"},
    "file_path": {
      "type": "string",
      "description": "Path to the dataset file (.csv, .tsv, .xlsx, .xls, .json, .parquet, .arff, .feather, max 1 GB)"
    },
    "target_column": {
      "type": "string",
      "description": "Column the analysis should explain or predict"
    },
    "depth_iterations": {
      "type": "integer",
      "minimum": 1,
      "default": 1,
      "description": "Analysis depth. Cost scales with depth; must be at most (columns - 2)"
    },
    "visibility": {
      "type": "string",
      "enum": ["public", "private"],
      "default": "private",
      "description": "Public runs are free at depth 1 and appear in the community gallery; private runs cost credits"
    },
    "title": {"type": "string", "description": "Optional title for the analysis"},
    "description": {"type": "string", "description": "Optional description of the dataset or question"},
    "column_descriptions": {
      "type": "object",
      "additionalProperties": {"type": "string"},
      "description": "Optional map of column name to a short description"
    },
    "nonce": {
      "type": "string",
      "description": "Set to a new value to deliberately re-run identical content; otherwise identical submissions deduplicate to the original run"
    }
  },
  "required": ["file_path", "target_column"]
}`)

var statusSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "api_key": {"type": "string", "description": "API key for this call; defaults to the configured DISCOVERY_API_KEY"},
    "run_id": {"type": "string", "description": "Run ID returned by discovery_analyze"}
  },
  "required": ["run_id"]
}`)

var resultsSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "api_key": {"type": "string", "description": "API key for this call; defaults to the configured DISCOVERY_API_KEY"},
    "run_id": {"type": "string", "description": "Run ID of a completed analysis"}
  },
  "required": ["run_id"]
}`)

var estimateSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "file_path": {"type": "string", "description": "Path to the dataset file; its size on disk is used"},
    "file_size_mb": {"type": "number", "exclusiveMinimum": 0, "description": "Dataset size in megabytes, if the file is not local"},
    "depth_iterations": {"type": "integer", "minimum": 1, "default": 1},
    "visibility": {"type": "string", "enum": ["public", "private"], "default": "private"}
  }
}`)

var signupSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "email": {"type": "string", "description": "Email address for the new account"},
    "name": {"type": "string", "description": "Display name; the service defaults it from the email when omitted"}
  },
  "required": ["email"]
}`)

var accountSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "api_key": {"type": "string", "description": "API key for this call; defaults to the configured DISCOVERY_API_KEY"}
  }
}`)

var listPlansSchema = mustSchema(`{"type": "object", "properties": {}}`)

var subscribeSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "api_key": {"type": "string", "description": "API key for this call; defaults to the configured DISCOVERY_API_KEY"},
    "plan": {"type": "string", "description": "Plan identifier from discovery_list_plans"}
  },
  "required": ["plan"]
}`)

var purchaseCreditsSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "api_key": {"type": "string", "description": "API key for this call; defaults to the configured DISCOVERY_API_KEY"},
    "packs": {"type": "integer", "minimum": 1, "default": 1, "description": "Number of credit packs to purchase"}
  }
}`)

var addPaymentMethodSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "api_key": {"type": "string", "description": "API key for this call; defaults to the configured DISCOVERY_API_KEY"},
    "payment_method_id": {"type": "string", "description": "Payment method identifier from the payment provider"}
  },
  "required": ["payment_method_id"]
}`)
