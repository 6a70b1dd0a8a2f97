package deforum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Settings is a Deforum settings document. Keys this package does not know
// about are kept as-is and forwarded to the API.
type Settings map[string]any

const settingsSchema = `{
	"type": "object",
	"required": ["max_frames", "batch_name"],
	"properties": {
		"max_frames": {"type": "integer", "minimum": 1},
		"batch_name": {"type": "string", "minLength": 1},
		"soundtrack_path": {"type": "string"}
	}
}`

var compiledSettingsSchema = jsonschema.MustCompileString("deforum-settings.json", settingsSchema)

// LoadSettings reads and validates a settings file.
func LoadSettings(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSettings(b)
}

// ParseSettings decodes and validates a settings document.
func ParseSettings(b []byte) (Settings, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid settings json: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("settings must be a JSON object")
	}
	if err := compiledSettingsSchema.Validate(obj); err != nil {
		return nil, fmt.Errorf("settings do not match schema: %w", err)
	}
	return Settings(obj), nil
}

func (s Settings) MaxFrames() int {
	switch v := s["max_frames"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func (s Settings) BatchName() string {
	name, _ := s["batch_name"].(string)
	return name
}

// SetSoundtrack points the render at a local audio file.
func (s Settings) SetSoundtrack(path string) {
	s["soundtrack_path"] = path
}
