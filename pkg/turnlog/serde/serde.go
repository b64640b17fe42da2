// Package serde encodes turn log snapshots as JSON or YAML.
//
// Decoding checks the snapshot against an embedded JSON schema before building the
// TurnLog, so a document of the wrong shape fails as an integrity violation instead of
// producing a half-populated log. Referential integrity is left to TurnLog.Validate.
package serde

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed turnlog.schema.json
var snapshotSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func snapshotSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(snapshotSchemaJSON))
	})
	return schema, schemaErr
}

// ValidateJSON checks a JSON snapshot against the turn log schema.
func ValidateJSON(b []byte) error {
	s, err := snapshotSchema()
	if err != nil {
		return errors.Wrap(err, "compile turn log schema")
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return &apperrors.IntegrityError{Reason: "snapshot is not valid JSON: " + err.Error()}
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return &apperrors.IntegrityError{Reason: "snapshot schema: " + strings.Join(msgs, "; ")}
}

// ToJSON encodes a snapshot.
func ToJSON(l *turnlog.TurnLog) ([]byte, error) {
	if l == nil {
		return nil, errors.New("nil turn log")
	}
	snapshot := *l
	normalize(&snapshot)
	return json.Marshal(&snapshot)
}

// FromJSON decodes and schema-checks a snapshot.
func FromJSON(b []byte) (*turnlog.TurnLog, error) {
	if err := ValidateJSON(b); err != nil {
		return nil, err
	}
	var l turnlog.TurnLog
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, &apperrors.IntegrityError{Reason: "decode snapshot: " + err.Error()}
	}
	normalize(&l)
	return &l, nil
}

// ToYAML encodes a snapshot as YAML. The document has the same field names as the
// JSON encoding.
func ToYAML(l *turnlog.TurnLog) ([]byte, error) {
	b, err := ToJSON(l)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, errors.Wrap(err, "re-decode snapshot")
	}
	return yaml.Marshal(generic)
}

// FromYAML decodes and schema-checks a YAML snapshot.
func FromYAML(b []byte) (*turnlog.TurnLog, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(b, &generic); err != nil {
		return nil, &apperrors.IntegrityError{Reason: "decode yaml snapshot: " + err.Error()}
	}
	j, err := json.Marshal(generic)
	if err != nil {
		return nil, &apperrors.IntegrityError{Reason: "yaml snapshot is not representable as JSON: " + err.Error()}
	}
	return FromJSON(j)
}

// SaveYAML writes a snapshot to path.
func SaveYAML(path string, l *turnlog.TurnLog) error {
	b, err := ToYAML(l)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// LoadYAML reads a snapshot from path.
func LoadYAML(path string) (*turnlog.TurnLog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(b)
}

// normalize fills defaults without touching turn order.
func normalize(l *turnlog.TurnLog) {
	if l.Turns == nil {
		l.Turns = []turnlog.Turn{}
	}
	if l.Path == "" && l.SessionID != "" {
		l.Path = turnlog.PathFor(l.SessionID)
	}
}
