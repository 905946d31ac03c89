// Package inventory is a small client for the Snipe-IT REST API.
package inventory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ItemType names a kind of inventory record.
type ItemType string

const (
	Assets      ItemType = "assets"
	Accessories ItemType = "accessories"
	Consumables ItemType = "consumables"
	Components  ItemType = "components"
	Licenses    ItemType = "licenses"
)

// ItemTypes lists the supported types in display order.
var ItemTypes = []ItemType{Assets, Accessories, Consumables, Components, Licenses}

// ParseItemType accepts a type keyword, case-insensitively. "hardware"
// is accepted as an alias for assets.
func ParseItemType(s string) (ItemType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Assets, nil
	}
	if s == "hardware" {
		return Assets, nil
	}
	for _, t := range ItemTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown item type %q (want one of assets, accessories, consumables, components, licenses)", s)
}

// Endpoint is the API and web path segment for the type. Assets live
// under "hardware".
func (t ItemType) Endpoint() string {
	if t == Assets {
		return "hardware"
	}
	return string(t)
}

// ListOptions narrows a List call.
type ListOptions struct {
	Search string
	Limit  int
	Offset int
}

// APIError is an error reported by the inventory service, either as an
// HTTP status or as a {"status":"error"} body.
type APIError struct {
	StatusCode int
	Messages   string
}

func (e *APIError) Error() string {
	if e.Messages == "" {
		return fmt.Sprintf("inventory: server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("inventory: server error (HTTP %d): %s", e.StatusCode, e.Messages)
}

// statusBody is the envelope Snipe-IT uses for failures.
type statusBody struct {
	Status   string          `json:"status"`
	Messages json.RawMessage `json:"messages"`
}

func (b statusBody) messages() string {
	if len(b.Messages) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Messages, &s); err == nil {
		return s
	}
	return string(b.Messages)
}

type listBody struct {
	Total int               `json:"total"`
	Rows  []json.RawMessage `json:"rows"`
}
