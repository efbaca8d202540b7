package extractor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dshills/assetsearch/pkg/types"
)

const (
	// TypeField is the top-level JSON key naming an asset's declared type
	TypeField = "$type"
	// ObjectsField holds an asset's sub-objects (graph nodes, components)
	ObjectsField = "objects"

	defaultMaxDepth      = 16
	defaultMaxProperties = 5000
)

// JSONExtractor flattens decoded JSON asset content into properties.
//
// Top-level keys describe the asset's root object. Entries of the "objects"
// array describe sub-objects with "name", "class", "path" and a
// "properties" map. Nested maps and arrays flatten into dotted
// PropertyField paths. Keys starting with '_' are stored as hidden values.
type JSONExtractor struct {
	name    string
	version int
	nested  []string

	MaxDepth      int
	MaxProperties int
}

// NewJSONExtractor creates a JSON extractor with the given cache identity
func NewJSONExtractor(name string, version int, nested ...string) *JSONExtractor {
	return &JSONExtractor{
		name:          name,
		version:       version,
		nested:        nested,
		MaxDepth:      defaultMaxDepth,
		MaxProperties: defaultMaxProperties,
	}
}

func (e *JSONExtractor) Name() string               { return e.name }
func (e *JSONExtractor) Version() int               { return e.version }
func (e *JSONExtractor) NestedAssetTypes() []string { return e.nested }

// Extract implements Extractor
func (e *JSONExtractor) Extract(ctx context.Context, asset *Asset) ([]types.Property, error) {
	if asset == nil || asset.Data == nil {
		return nil, fmt.Errorf("asset has no content")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := &flattener{maxDepth: e.MaxDepth, maxProps: e.MaxProperties}
	if f.maxDepth <= 0 {
		f.maxDepth = defaultMaxDepth
	}
	if f.maxProps <= 0 {
		f.maxProps = defaultMaxProperties
	}

	root := objectContext{
		name:  asset.Identity.Name(),
		path:  asset.Identity.Path,
		class: asset.Identity.Type,
	}
	for _, key := range slices.Sorted(maps.Keys(asset.Data)) {
		if key == TypeField || key == ObjectsField {
			continue
		}
		f.flatten(root, key, "", asset.Data[key], 0)
	}

	objects, _ := asset.Data[ObjectsField].([]any)
	for i, raw := range objects {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		oc := objectContext{
			name:  stringField(obj, "name", "Object"+strconv.Itoa(i)),
			class: stringField(obj, "class", ""),
		}
		oc.path = stringField(obj, "path", asset.Identity.Path+"."+oc.name)

		props, _ := obj["properties"].(map[string]any)
		for _, key := range slices.Sorted(maps.Keys(props)) {
			f.flatten(oc, key, "", props[key], 0)
		}
	}

	return f.out, nil
}

type objectContext struct {
	name  string
	path  string
	class string
}

type flattener struct {
	maxDepth int
	maxProps int
	out      []types.Property
}

func (f *flattener) full() bool {
	return len(f.out) >= f.maxProps
}

func (f *flattener) flatten(obj objectContext, name, field string, value any, depth int) {
	if f.full() || depth > f.maxDepth {
		return
	}

	switch v := value.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(v)) {
			f.flatten(obj, name, joinField(field, k), v[k], depth+1)
			if f.full() {
				return
			}
		}
	case []any:
		for i, child := range v {
			f.flatten(obj, name, field+"["+strconv.Itoa(i)+"]", child, depth+1)
			if f.full() {
				return
			}
		}
	default:
		text, class := scalarText(v)
		prop := types.Property{
			ObjectName:        obj.name,
			ObjectPath:        obj.path,
			ObjectNativeClass: obj.class,
			PropertyName:      strings.TrimPrefix(name, "_"),
			PropertyField:     field,
			PropertyClass:     class,
		}
		if strings.HasPrefix(name, "_") {
			prop.ValueHidden = text
		} else {
			prop.ValueText = text
		}
		f.out = append(f.out, prop)
	}
}

func joinField(field, key string) string {
	if field == "" {
		return key
	}
	return field + "." + key
}

func scalarText(v any) (string, string) {
	switch x := v.(type) {
	case nil:
		return "", "null"
	case string:
		return x, "string"
	case bool:
		return strconv.FormatBool(x), "bool"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), "number"
	default:
		return fmt.Sprint(x), fmt.Sprintf("%T", x)
	}
}

func stringField(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
