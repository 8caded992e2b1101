package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON schema a config file must satisfy before it is merged
// over the defaults. Every field is optional.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "data_dir": {"type": "string"},
    "server": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "read_timeout": {"type": "integer", "minimum": 0},
        "write_timeout": {"type": "integer", "minimum": 0},
        "shutdown_timeout": {"type": "integer", "minimum": 0},
        "max_upload_bytes": {"type": "integer", "minimum": 1},
        "rate_limit_per_minute": {"type": "integer", "minimum": 0},
        "allowed_origin": {"type": "string"},
        "trust_proxy_headers": {"type": "boolean"},
        "cookie_path": {"type": "string"},
        "cookie_secure": {"type": "boolean"}
      }
    },
    "provider": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "enum": ["groq", "openai", "anthropic", "gemini"]},
        "api_key": {"type": "string"},
        "model": {"type": "string"},
        "base_url": {"type": "string"},
        "timeout": {"type": "integer", "minimum": 1},
        "describe": {"$ref": "#/definitions/generation"},
        "question": {"$ref": "#/definitions/generation"}
      }
    },
    "memory": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "backend": {"type": "string", "enum": ["local", "remote"]},
        "remote_url": {"type": "string"},
        "max_idle": {"type": "integer", "minimum": 1},
        "sweep_schedule": {"type": "string"},
        "context_turns": {"type": "integer", "minimum": 0},
        "serve": {"type": "boolean"},
        "audit_file": {"type": "string"}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"},
        "max_size": {"type": "integer", "minimum": 0},
        "max_age": {"type": "integer", "minimum": 0},
        "max_backups": {"type": "integer", "minimum": 0},
        "compress": {"type": "boolean"},
        "redaction": {"type": "boolean"}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "path": {"type": "string"}
      }
    },
    "tracing": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "file": {"type": "string"}
      }
    }
  },
  "definitions": {
    "generation": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "max_tokens": {"type": "integer", "minimum": 1},
        "temperature": {"type": "number", "minimum": 0, "maximum": 2}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ValidateSchema validates raw config JSON against Schema
func ValidateSchema(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("config does not match schema: %s", strings.Join(msgs, "; "))
	}

	return nil
}
