package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

const modelDigestPrefix = "model:"

// Model is a message type that can travel inside an envelope.
// Implementations must be struct values, not pointers.
type Model interface {
	SchemaName() string
}

type modelInfo struct {
	name   string
	digest string
	schema json.RawMessage
}

//nolint:gochecknoglobals // Schemas are derived from types and never change.
var modelCache sync.Map

func describe(m Model) (modelInfo, error) {
	if m == nil {
		return modelInfo{}, errors.New("model is nil")
	}

	t := reflect.TypeOf(m)
	if t.Kind() != reflect.Struct {
		return modelInfo{}, fmt.Errorf("model %s must be a struct value", t)
	}

	if cached, ok := modelCache.Load(t); ok {
		info, castOk := cached.(modelInfo)
		if castOk {
			return info, nil
		}
	}

	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}

	schema := reflector.Reflect(m)
	schema.Version = ""
	schema.Title = m.SchemaName()

	raw, err := json.Marshal(schema)
	if err != nil {
		return modelInfo{}, fmt.Errorf("marshal schema: %w", err)
	}

	sum := sha256.Sum256(raw)
	info := modelInfo{
		name:   m.SchemaName(),
		digest: modelDigestPrefix + hex.EncodeToString(sum[:]),
		schema: raw,
	}

	modelCache.Store(t, info)

	return info, nil
}

// Digest identifies a model on the wire. Two agents agree on a message type
// exactly when their digests match.
func Digest(m Model) (string, error) {
	info, err := describe(m)
	if err != nil {
		return "", err
	}

	return info.digest, nil
}

func Schema(m Model) (json.RawMessage, error) {
	info, err := describe(m)
	if err != nil {
		return nil, err
	}

	return info.schema, nil
}

// Encode returns the schema digest and JSON payload for m.
func Encode(m Model) (string, []byte, error) {
	digest, err := Digest(m)
	if err != nil {
		return "", nil, fmt.Errorf("describe model: %w", err)
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return "", nil, fmt.Errorf("marshal payload: %w", err)
	}

	return digest, payload, nil
}
