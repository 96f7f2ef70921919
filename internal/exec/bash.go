package exec

import (
	"encoding/json"
	"fmt"

	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

// BuildBashEnv implements §4.6.1: for each parameter K with a Variable
// value, sets K to the stringified value (JSON-encoded if object/array) plus
// MLLD_IS_VARIABLE_K=true, MLLD_TYPE_K, MLLD_SUBTYPE_K (if present) and
// MLLD_METADATA_K (JSON, if present). Non-Variable params are out of scope
// here since the evaluator always hands this function typed Variables.
func BuildBashEnv(params map[string]*variable.Variable) []string {
	var out []string
	for k, v := range params {
		out = append(out, k+"="+stringifyForShell(v))
		out = append(out, "MLLD_IS_VARIABLE_"+k+"=true")
		out = append(out, "MLLD_TYPE_"+k+"="+string(v.Type))
		if v.Subtype != "" {
			out = append(out, "MLLD_SUBTYPE_"+k+"="+v.Subtype)
		}
		if meta, ok := metadataJSON(v); ok {
			out = append(out, "MLLD_METADATA_"+k+"="+meta)
		}
	}
	return out
}

func stringifyForShell(v *variable.Variable) string {
	switch v.Type {
	case variable.KindText:
		return v.Value.(string)
	case variable.KindPrimitive:
		p := v.Value.(variable.Primitive)
		switch p.Kind {
		case variable.PrimitiveNumber:
			return fmt.Sprintf("%v", p.Number)
		case variable.PrimitiveBoolean:
			return fmt.Sprintf("%v", p.Bool)
		default:
			return "null"
		}
	case variable.KindStructured, variable.KindPipelineInput:
		sv := v.Value.(structured.Value)
		return sv.AsText()
	default:
		return fmt.Sprintf("%v", v.Value)
	}
}

func metadataJSON(v *variable.Variable) (string, bool) {
	if len(v.MX.Labels) == 0 && len(v.MX.Taint) == 0 {
		return "", false
	}
	b, err := json.Marshal(map[string]interface{}{
		"labels": v.MX.Labels,
		"taint":  v.MX.Taint,
	})
	if err != nil {
		return "", false
	}
	return string(b), true
}

// bashHelperFunctions are injected ahead of bash code bodies in "enhanced
// mode" (§4.6), letting scripts introspect the Variable metadata exposed by
// BuildBashEnv without parsing env-var naming conventions by hand.
const bashHelperFunctions = `
mlld_is_variable() {
  local name="MLLD_IS_VARIABLE_$1"
  [ "${!name}" = "true" ]
}
mlld_get_type() {
  local name="MLLD_TYPE_$1"
  echo "${!name}"
}
mlld_get_subtype() {
  local name="MLLD_SUBTYPE_$1"
  echo "${!name}"
}
mlld_get_metadata() {
  local name="MLLD_METADATA_$1"
  echo "${!name}"
}
`

// jsParamPrelude exposes parameters as named locals for the node sandbox,
// binding each Variable's raw value as a JSON literal (console output is captured
// by the caller; the return value of the script becomes the result via a
// final console.log, by convention of the embedded code body itself).
func jsParamPrelude(params map[string]*variable.Variable) string {
	prelude := ""
	for k, v := range params {
		b, _ := json.Marshal(rawValue(v))
		prelude += fmt.Sprintf("const %s = %s;\n", k, string(b))
	}
	return prelude
}

func rawValue(v *variable.Variable) interface{} {
	switch v.Type {
	case variable.KindText:
		return v.Value.(string)
	case variable.KindPrimitive:
		p := v.Value.(variable.Primitive)
		switch p.Kind {
		case variable.PrimitiveNumber:
			return p.Number
		case variable.PrimitiveBoolean:
			return p.Bool
		default:
			return nil
		}
	case variable.KindStructured, variable.KindPipelineInput:
		sv := v.Value.(structured.Value)
		if obj, ok := sv.AsObject(); ok {
			return obj
		}
		if arr, ok := sv.AsArray(); ok {
			return arr
		}
		return sv.AsText()
	default:
		return fmt.Sprintf("%v", v.Value)
	}
}
