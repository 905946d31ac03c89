package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assetJSON = `{
  "id": 428,
  "name": "Core Switch",
  "asset_tag": "00428",
  "serial": "83I1703F2BC",
  "purchase_cost": "1,200.00",
  "requestable": false,
  "notes": "Rack <b>B2</b> &amp; spare PSU",
  "model": {"id": 7, "name": "AP82i"},
  "status_label": {"id": 2, "name": "Ready to Deploy", "status_meta": "deployable"},
  "custom_fields": {"MAC Address": {"field": "_snipeit_mac_address_1", "value": "00:11:22:33:44:55"}},
  "assigned_to": null,
  "tags": ["core", "lab"],
  "warranty_months": 36.5
}`

func TestDecodeItem(t *testing.T) {
	item, err := decodeItem(Assets, []byte(assetJSON))
	require.NoError(t, err)

	assert.Equal(t, "428", item.ID)
	assert.Equal(t, Assets, item.Type)
	assert.Equal(t, "Core Switch", item.Name())
}

func TestDecodeItem_Invalid(t *testing.T) {
	_, err := decodeItem(Assets, []byte("null"))
	assert.Error(t, err)
	_, err = decodeItem(Assets, []byte("[1,2]"))
	assert.Error(t, err)
}

func TestItem_Fields(t *testing.T) {
	item, err := decodeItem(Assets, []byte(assetJSON))
	require.NoError(t, err)

	f := item.Fields()

	assert.Equal(t, "428", f["id"])
	assert.Equal(t, "00428", f["asset_tag"])
	assert.Equal(t, "AP82i", f["model_name"])
	assert.Equal(t, "Ready to Deploy", f["status_label_name"])
	assert.Equal(t, "00:11:22:33:44:55", f["custom_fields_MAC Address_value"])
	assert.Equal(t, "false", f["requestable"])
	assert.Equal(t, "core", f["tags_0"])
	assert.Equal(t, "lab", f["tags_1"])
	assert.Equal(t, "36.5", f["warranty_months"])
	assert.Equal(t, "Rack B2 & spare PSU", f["notes"])

	_, ok := f["assigned_to"]
	assert.False(t, ok, "nulls are dropped")
}

func TestItem_ValuesAreTyped(t *testing.T) {
	item, err := decodeItem(Assets, []byte(assetJSON))
	require.NoError(t, err)

	v := item.Values()

	assert.Equal(t, int64(428), v["id"])
	assert.Equal(t, int64(7), v["model_id"])
	assert.Equal(t, 36.5, v["warranty_months"])
	assert.Equal(t, false, v["requestable"])
	assert.Equal(t, "Core Switch", v["name"])
}

func TestItem_NameFallbacks(t *testing.T) {
	item, err := decodeItem(Assets, []byte(`{"id": 5, "asset_tag": "T-5"}`))
	require.NoError(t, err)
	assert.Equal(t, "T-5", item.Name())

	item, err = decodeItem(Consumables, []byte(`{"id": 9}`))
	require.NoError(t, err)
	assert.Equal(t, "#9", item.Name())
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
}

func TestParseItemType(t *testing.T) {
	tests := []struct {
		in       string
		want     ItemType
		endpoint string
	}{
		{"", Assets, "hardware"},
		{"assets", Assets, "hardware"},
		{"Hardware", Assets, "hardware"},
		{"accessories", Accessories, "accessories"},
		{" CONSUMABLES ", Consumables, "consumables"},
		{"components", Components, "components"},
		{"licenses", Licenses, "licenses"},
	}
	for _, tt := range tests {
		got, err := ParseItemType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.endpoint, got.Endpoint())
	}

	_, err := ParseItemType("printers")
	assert.ErrorContains(t, err, "printers")
}
