package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Capability is a named operation the model can invoke, with a JSON schema for its
// arguments.
type Capability struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`

	validator *gojsonschema.Schema
	run       func(ctx context.Context, args []byte) (any, error)
}

// NewCapabilityFromFunc builds a capability from a typed Go function. The argument
// schema is reflected from In.
func NewCapabilityFromFunc[In any, Out any](name, description string, fn func(context.Context, In) (Out, error)) (*Capability, error) {
	if name == "" {
		return nil, errors.New("capability name cannot be empty")
	}
	if fn == nil {
		return nil, errors.Errorf("capability %s has no function", name)
	}

	var zero In
	reflector := jsonschema.Reflector{
		// Expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(zero)
	if schema.Type == "" {
		schema.Type = "object"
	}

	validator, err := compileValidator(schema)
	if err != nil {
		return nil, errors.Wrapf(err, "compile argument schema of %s", name)
	}

	return &Capability{
		Name:        name,
		Description: description,
		Parameters:  schema,
		validator:   validator,
		run: func(ctx context.Context, args []byte) (any, error) {
			var in In
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
				}
			}
			return fn(ctx, in)
		},
	}, nil
}

// compileValidator compiles the reflected schema for gojsonschema, which only knows
// the drafts up to 7 and rejects the 2020-12 $schema marker.
func compileValidator(s *jsonschema.Schema) (*gojsonschema.Schema, error) {
	cp := *s
	cp.Version = ""
	cp.ID = ""
	b, err := json.Marshal(&cp)
	if err != nil {
		return nil, err
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
}

// ValidateArgs checks args against the parameter schema.
func (c *Capability) ValidateArgs(args map[string]any) error {
	if c.validator == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.validator.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Invoke runs the capability function.
func (c *Capability) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if c.run == nil {
		return nil, errors.Errorf("capability %s is not executable", c.Name)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "marshal arguments")
	}
	return c.run(ctx, b)
}

// ParametersJSON returns the parameter schema encoded as JSON.
func (c *Capability) ParametersJSON() (json.RawMessage, error) {
	if c.Parameters == nil {
		return json.RawMessage(`{"type":"object"}`), nil
	}
	return json.Marshal(c.Parameters)
}
