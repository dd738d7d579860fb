package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Noisy common types dropped from extracted definitions.
var droppedDefinitions = map[string]struct{}{
	"googlerpcStatus": {},
	"protobufAny":     {},
}

// Extract returns one operation together with the transitive closure of the
// schema definitions it references, for handing a minimal spec slice to a
// caller that must build a request.
func (c *Index) Extract(operationID string) (map[string]any, error) {
	i, ok := c.byID[operationID]
	if !ok {
		return nil, fmt.Errorf("operation not found: %s", operationID)
	}
	sum := c.operations[i].summary

	paths, _ := c.doc["paths"].(map[string]any)
	methods, _ := paths[sum.Path].(map[string]any)
	op, _ := methods[strings.ToLower(sum.Method)].(map[string]any)
	if op == nil {
		return nil, fmt.Errorf("operation body missing for %s", operationID)
	}

	refs := make(map[string]struct{})
	collectRefs(op, refs)

	return map[string]any{
		"paths": map[string]any{
			sum.Path: map[string]any{strings.ToLower(sum.Method): op},
		},
		"definitions": c.definitionClosure(refs),
	}, nil
}

func (c *Index) definitionClosure(refs map[string]struct{}) map[string]any {
	defs, _ := c.doc["definitions"].(map[string]any)
	extracted := make(map[string]any)
	processed := make(map[string]struct{})

	queue := make([]string, 0, len(refs))
	for ref := range refs {
		queue = append(queue, ref)
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, done := processed[ref]; done {
			continue
		}
		processed[ref] = struct{}{}

		name, ok := strings.CutPrefix(ref, "#/definitions/")
		if !ok {
			continue
		}
		schema, ok := defs[name]
		if !ok {
			continue
		}
		if _, dropped := droppedDefinitions[name]; dropped {
			continue
		}
		extracted[name] = schema

		nested := make(map[string]struct{})
		collectRefs(schema, nested)
		for n := range nested {
			if _, done := processed[n]; !done {
				queue = append(queue, n)
			}
		}
	}
	return extracted
}

func collectRefs(obj any, refs map[string]struct{}) {
	switch v := obj.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok {
			refs[ref] = struct{}{}
		}
		for _, child := range v {
			collectRefs(child, refs)
		}
	case []any:
		for _, item := range v {
			collectRefs(item, refs)
		}
	}
}

// requestFields derives the required and optional request fields of an
// operation from its parameters and body schema.
func (c *Index) requestFields(op map[string]any) (required, optional []string) {
	params, _ := op["parameters"].([]any)
	for _, rawParam := range params {
		param, ok := rawParam.(map[string]any)
		if !ok {
			continue
		}
		name, _ := param["name"].(string)
		isRequired, _ := param["required"].(bool)
		in, _ := param["in"].(string)

		if in == "body" {
			bodyRequired, bodyOptional := c.bodyFields(param["schema"])
			required = append(required, bodyRequired...)
			optional = append(optional, bodyOptional...)
			continue
		}
		if name == "" {
			continue
		}
		if isRequired {
			required = append(required, name)
		} else {
			optional = append(optional, name)
		}
	}
	sort.Strings(required)
	sort.Strings(optional)
	return required, optional
}

func (c *Index) bodyFields(rawSchema any) (required, optional []string) {
	schema, ok := rawSchema.(map[string]any)
	if !ok {
		return nil, nil
	}
	if ref, ok := schema["$ref"].(string); ok {
		name, _ := strings.CutPrefix(ref, "#/definitions/")
		defs, _ := c.doc["definitions"].(map[string]any)
		schema, _ = defs[name].(map[string]any)
		if schema == nil {
			return nil, nil
		}
	}

	requiredSet := make(map[string]struct{})
	for _, name := range stringSlice(schema["required"]) {
		requiredSet[name] = struct{}{}
	}
	props, _ := schema["properties"].(map[string]any)
	for name := range props {
		if _, ok := requiredSet[name]; ok {
			required = append(required, name)
		} else {
			optional = append(optional, name)
		}
	}
	return required, optional
}
