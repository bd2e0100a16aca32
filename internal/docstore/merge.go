package docstore

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// mergeFields applies dotted field updates ("members.u1.active") to a JSON
// object. Intermediate objects are created as needed; a nil value stores null.
func mergeFields(data []byte, fields map[string]any) ([]byte, error) {
	doc := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, "document is not a JSON object")
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// Parents before children, so "a" then "a.b" keeps the child write.
	sort.Strings(keys)

	for _, key := range keys {
		value, err := normalize(fields[key])
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", key)
		}
		parts := strings.Split(key, ".")
		node := doc
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return json.Marshal(doc)
}

// normalize turns typed values (structs with custom marshalers included)
// into their generic JSON form.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
