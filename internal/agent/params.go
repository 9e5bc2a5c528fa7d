package agent

import (
	"github.com/mitchellh/mapstructure"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

// decodeParams maps a decoded params map onto a typed struct using
// mapstructure, the library this pack's nested phenix module reaches for
// when it needs to turn a generic map into a concrete Go type. A decode
// failure becomes an invalid_params wire error naming the field.
func decodeParams(params map[string]interface{}, out interface{}) *rpc.ErrorData {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		TagName:          "param",
	})
	if err != nil {
		return rpc.NewError(rpc.CodeInternalError, "building params decoder: %v", err)
	}
	if err := dec.Decode(params); err != nil {
		return rpc.NewError(rpc.CodeInvalidParams, "%v", err)
	}
	return nil
}

// requireString pulls a required string field out of params, reporting
// invalid_params with the field name if it's missing or the wrong type.
func requireString(params map[string]interface{}, key string) (string, *rpc.ErrorData) {
	v, ok := params[key]
	if !ok {
		return "", rpc.NewError(rpc.CodeInvalidParams, "missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", rpc.NewError(rpc.CodeInvalidParams, "parameter %q must be a string", key)
	}
	return s, nil
}

func optionalBool(params map[string]interface{}, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func optionalUint64(params map[string]interface{}, key string, def uint64) uint64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	default:
		return def
	}
}

func requireUint64(params map[string]interface{}, key string) (uint64, *rpc.ErrorData) {
	v, ok := params[key]
	if !ok {
		return 0, rpc.NewError(rpc.CodeInvalidParams, "missing required parameter %q", key)
	}
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		return uint64(n), nil
	case int:
		return uint64(n), nil
	default:
		return 0, rpc.NewError(rpc.CodeInvalidParams, "parameter %q must be an integer", key)
	}
}
