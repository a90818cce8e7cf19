package skillgen

import (
	"bytes"
	"encoding/json"
)

// responseShape summarizes a JSON response body as its top-level type plus,
// for objects, the key names in insertion order.
func responseShape(body []byte) ResponseShape {
	v, ok := decodeOrdered(body)
	if !ok {
		return ResponseShape{Type: "unknown"}
	}

	switch t := v.(type) {
	case orderedObject:
		return ResponseShape{Type: "object", Fields: t.keys}
	case []interface{}:
		shape := ResponseShape{Type: "array"}
		if len(t) > 0 {
			if first, ok := t[0].(orderedObject); ok {
				shape.Fields = first.keys
			}
		}
		return shape
	default:
		return ResponseShape{Type: jsonScalarType(v)}
	}
}

// buildSchema recursively summarizes a JSON response body as a SchemaNode
// tree, sampling arrays by their first element and capping recursion at
// maxSchemaDepth levels.
func buildSchema(body []byte, depth int) *SchemaNode {
	if depth >= maxSchemaDepth {
		return nil
	}

	v, ok := decodeOrdered(body)
	if !ok {
		return nil
	}
	return schemaOf(v, depth)
}

func schemaOf(v interface{}, depth int) *SchemaNode {
	if depth >= maxSchemaDepth {
		return &SchemaNode{Type: "unknown"}
	}

	if v == nil {
		return &SchemaNode{Type: "null", Nullable: true}
	}

	switch t := v.(type) {
	case orderedObject:
		fields := make(map[string]SchemaNode, len(t.keys))
		for _, k := range t.keys {
			if child := schemaOf(t.values[k], depth+1); child != nil {
				fields[k] = *child
			}
		}
		return &SchemaNode{Type: "object", Fields: fields}
	case []interface{}:
		node := &SchemaNode{Type: "array"}
		if len(t) > 0 {
			node.Items = schemaOf(t[0], depth+1)
		}
		return node
	default:
		return &SchemaNode{Type: jsonScalarType(v)}
	}
}

func jsonScalarType(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

// orderedObject preserves JSON object key order, which encoding/json's
// map[string]interface{} decoding discards.
type orderedObject struct {
	keys   []string
	values map[string]interface{}
}

func decodeOrdered(body []byte) (interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	v, err := decodeValue(dec)
	if err != nil {
		return nil, false
	}
	return v, true
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (interface{}, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := orderedObject{values: make(map[string]interface{})}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.keys = append(obj.keys, key)
				obj.values[key] = val
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		case '[':
			var arr []interface{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		}
	}
	return tok, nil
}
