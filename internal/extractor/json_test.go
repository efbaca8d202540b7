package extractor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/assetsearch/pkg/types"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestJSONExtractor_RootAndObjects(t *testing.T) {
	ex := NewJSONExtractor("JsonProperties", 1)
	asset := &Asset{
		Identity: types.AssetIdentity{Path: "/Game/Vehicles/Car", Type: "Blueprint"},
		Data: decode(t, `{
			"$type": "Blueprint",
			"Speed": "Fast",
			"Stats": {"Mass": 1200, "Electric": true},
			"_guid": "abc-123",
			"objects": [
				{"name": "Engine", "class": "EngineComponent", "properties": {"Tags": ["loud", "v8"]}}
			]
		}`),
	}

	props, err := ex.Extract(context.Background(), asset)
	require.NoError(t, err)

	want := []types.Property{
		{ObjectName: "Car", ObjectPath: "/Game/Vehicles/Car", ObjectNativeClass: "Blueprint",
			PropertyName: "Speed", PropertyClass: "string", ValueText: "Fast"},
		{ObjectName: "Car", ObjectPath: "/Game/Vehicles/Car", ObjectNativeClass: "Blueprint",
			PropertyName: "Stats", PropertyField: "Electric", PropertyClass: "bool", ValueText: "true"},
		{ObjectName: "Car", ObjectPath: "/Game/Vehicles/Car", ObjectNativeClass: "Blueprint",
			PropertyName: "Stats", PropertyField: "Mass", PropertyClass: "number", ValueText: "1200"},
		{ObjectName: "Car", ObjectPath: "/Game/Vehicles/Car", ObjectNativeClass: "Blueprint",
			PropertyName: "guid", PropertyClass: "string", ValueHidden: "abc-123"},
		{ObjectName: "Engine", ObjectPath: "/Game/Vehicles/Car.Engine", ObjectNativeClass: "EngineComponent",
			PropertyName: "Tags", PropertyField: "[0]", PropertyClass: "string", ValueText: "loud"},
		{ObjectName: "Engine", ObjectPath: "/Game/Vehicles/Car.Engine", ObjectNativeClass: "EngineComponent",
			PropertyName: "Tags", PropertyField: "[1]", PropertyClass: "string", ValueText: "v8"},
	}
	// Root keys are sorted: Speed, Stats, _guid
	assert.Equal(t, want, props)
}

func TestJSONExtractor_Deterministic(t *testing.T) {
	ex := NewJSONExtractor("JsonProperties", 1)
	asset := &Asset{
		Identity: types.AssetIdentity{Path: "/Game/M", Type: "Material"},
		Data:     decode(t, `{"b": 1, "a": {"z": 1, "y": 2, "x": [3, 4]}, "c": "s"}`),
	}

	first, err := ex.Extract(context.Background(), asset)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ex.Extract(context.Background(), asset)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestJSONExtractor_Limits(t *testing.T) {
	ex := NewJSONExtractor("JsonProperties", 1)
	ex.MaxProperties = 2
	asset := &Asset{
		Identity: types.AssetIdentity{Path: "/Game/M", Type: "Material"},
		Data:     decode(t, `{"a": 1, "b": 2, "c": 3}`),
	}

	props, err := ex.Extract(context.Background(), asset)
	require.NoError(t, err)
	assert.Len(t, props, 2)
}

func TestJSONExtractor_NoContent(t *testing.T) {
	ex := NewJSONExtractor("JsonProperties", 1)
	_, err := ex.Extract(context.Background(), &Asset{})
	assert.Error(t, err)
}
