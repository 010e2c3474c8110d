// Package jsonx converts bus payloads into typed structs. Payloads published
// in-process are usually already the right Go type; payloads from config or
// the link arrive as raw JSON or as decoded maps.
package jsonx

import (
	"encoding/json"

	"sdi12-go/errcode"
)

// Decode fills dst from src, which may be a T, a *T, JSON bytes or string,
// or any JSON-marshalable value (typically map[string]any).
func Decode[T any](src any, dst *T) error {
	switch v := src.(type) {
	case T:
		*dst = v
		return nil
	case *T:
		if v == nil {
			return errcode.InvalidPayload
		}
		*dst = *v
		return nil
	case nil:
		return errcode.InvalidPayload
	case []byte:
		return wrap(json.Unmarshal(v, dst))
	case string:
		return wrap(json.Unmarshal([]byte(v), dst))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return wrap(err)
		}
		return wrap(json.Unmarshal(b, dst))
	}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return errcode.Wrap(errcode.InvalidPayload, "jsonx.Decode", err)
}
