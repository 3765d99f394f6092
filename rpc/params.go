package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrEmptyOperation = errors.New("rpc: empty operation")
	ErrInvalidParams  = errors.New("rpc: invalid params")
)

// Params are the plaintext parameters of an operation. Values are limited to
// strings, booleans, numbers and nil. Nested structures are sent pre-encoded
// as JSON strings, see SetJSON.
type Params map[string]any

func (p Params) Set(key string, v any) Params {
	p[key] = v
	return p
}

// SetJSON stores v encoded as a JSON string.
func (p Params) SetJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParams, key, err)
	}
	p[key] = string(b)
	return nil
}

// With copies string fields into p, typically session.Context.Params output.
func (p Params) With(fields map[string]string) Params {
	for k, v := range fields {
		p[k] = v
	}
	return p
}

func (p Params) validate() error {
	for k, v := range p {
		if v == nil {
			continue
		}
		if _, ok := v.(json.Number); ok {
			continue
		}
		switch reflect.TypeOf(v).Kind() {
		case reflect.String, reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
		default:
			return fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidParams, k, v)
		}
	}
	return nil
}
