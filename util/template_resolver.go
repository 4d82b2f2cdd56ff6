package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var templateToken = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ResolveTemplates substitutes every {{path}} placeholder found in string
// values of params, walking nested maps and lists. Paths are dotted lookups
// into entity ("contact.email"). Placeholders that do not resolve become the
// empty string and are reported in the returned slice.
func ResolveTemplates(entity map[string]any, params map[string]any) (map[string]any, []string) {
	r := &resolver{entity: entity}
	out := make(map[string]any, len(params))
	r.resolveParams(params, out)
	return out, r.unresolved
}

// ResolveString resolves the placeholders of a single template string.
func ResolveString(entity map[string]any, tmpl string) (string, []string) {
	r := &resolver{entity: entity}
	return r.resolveString(tmpl), r.unresolved
}

// Lookup returns the value at a dotted field path. The second result is false
// when any segment of the path is absent or the value is null.
func Lookup(entity map[string]any, fieldPath string) (any, bool) {
	path := strings.TrimSpace(fieldPath)
	if path == "" {
		return nil, false
	}
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	value, err := jsonpath.JsonPathLookup(entity, path)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// HasTemplate reports whether s contains a {{path}} placeholder.
func HasTemplate(s string) bool {
	return templateToken.MatchString(s)
}

// OmitTemplated copies params without the string values that hold a
// placeholder, walking nested maps and lists. What is left has the shape
// the config will have once resolved, minus the values only known then.
func OmitTemplated(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if kept, ok := omitTemplated(v); ok {
			out[k] = kept
		}
	}
	return out
}

func omitTemplated(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		return val, !HasTemplate(val)
	case map[string]any:
		return OmitTemplated(val), true
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if kept, ok := omitTemplated(item); ok {
				out = append(out, kept)
			}
		}
		return out, true
	default:
		return v, true
	}
}

type resolver struct {
	entity     map[string]any
	unresolved []string
}

func (r *resolver) resolveParams(params map[string]any, output map[string]any) {
	for k, v := range params {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any, len(val))
			r.resolveParams(val, out)
			output[k] = out
		case string:
			output[k] = r.resolveString(val)
		case []any:
			output[k] = r.resolveList(val)
		default:
			output[k] = v
		}
	}
}

func (r *resolver) resolveList(list []any) []any {
	output := make([]any, 0, len(list))
	for _, v := range list {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any, len(val))
			r.resolveParams(val, out)
			output = append(output, out)
		case string:
			output = append(output, r.resolveString(val))
		case []any:
			output = append(output, r.resolveList(val))
		default:
			output = append(output, v)
		}
	}
	return output
}

func (r *resolver) resolveString(s string) string {
	return templateToken.ReplaceAllStringFunc(s, func(token string) string {
		name := templateToken.FindStringSubmatch(token)[1]
		value, ok := Lookup(r.entity, name)
		if !ok {
			r.unresolved = append(r.unresolved, name)
			return ""
		}
		return fmt.Sprintf("%v", value)
	})
}
