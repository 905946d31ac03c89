package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strconv"

	"github.com/microcosm-cc/bluemonday"
)

// textPolicy strips all markup from server-provided strings.
var textPolicy = bluemonday.StrictPolicy()

// Item is one inventory record as returned by the API.
type Item struct {
	Type ItemType
	ID   string
	Raw  map[string]any
}

func decodeItem(t ItemType, body []byte) (*Item, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode item: empty body")
	}

	item := &Item{Type: t, Raw: raw}
	switch id := raw["id"].(type) {
	case json.Number:
		item.ID = id.String()
	case string:
		item.ID = id
	}
	return item, nil
}

// Name is a human label for the item: its name, else its asset tag,
// else its id.
func (i *Item) Name() string {
	f := i.Fields()
	for _, k := range []string{"name", "asset_tag"} {
		if v := f[k]; v != "" {
			return v
		}
	}
	return "#" + i.ID
}

// Values flattens the item into underscore-joined keys with typed leaf
// values: strings, int64 or float64 for numbers, and bools. Nulls are
// dropped. Array elements are keyed by index.
func (i *Item) Values() map[string]any {
	out := make(map[string]any)
	flatten(out, "", i.Raw)
	return out
}

// Fields is Values rendered as strings, for template substitution.
func (i *Item) Fields() map[string]string {
	vals := i.Values()
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		switch x := v.(type) {
		case string:
			out[k] = x
		case int64:
			out[k] = strconv.FormatInt(x, 10)
		case float64:
			out[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(x)
		}
	}
	return out
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(out map[string]any, prefix string, v any) {
	switch x := v.(type) {
	case nil:
	case map[string]any:
		for k, child := range x {
			flatten(out, join(prefix, k), child)
		}
	case []any:
		for idx, child := range x {
			flatten(out, join(prefix, strconv.Itoa(idx)), child)
		}
	case json.Number:
		if n, err := x.Int64(); err == nil {
			out[prefix] = n
		} else if f, err := x.Float64(); err == nil {
			out[prefix] = f
		} else {
			out[prefix] = x.String()
		}
	case string:
		out[prefix] = cleanText(x)
	case bool:
		out[prefix] = x
	default:
		out[prefix] = fmt.Sprint(x)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

// cleanText removes markup and decodes entities. The API returns user
// text HTML-escaped.
func cleanText(s string) string {
	return html.UnescapeString(textPolicy.Sanitize(s))
}
