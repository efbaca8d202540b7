package types

// SearchHit represents a single full-text match against a stored property
type SearchHit struct {
	// Asset
	AssetName string `json:"asset_name"`
	AssetType string `json:"asset_type"`
	AssetPath string `json:"asset_path"`

	// Container object within the asset
	ObjectName        string `json:"object_name,omitempty"`
	ObjectPath        string `json:"object_path,omitempty"`
	ObjectNativeClass string `json:"object_native_class,omitempty"`

	// Property
	PropertyName  string `json:"property_name"`
	PropertyField string `json:"property_field,omitempty"`
	PropertyClass string `json:"property_class,omitempty"`

	// Matched text
	ValueText   string `json:"value_text"`
	ValueHidden string `json:"value_hidden,omitempty"`

	// Score is the engine's bm25 rank; lower values are better matches
	Score float64 `json:"score"`
}

// Identity returns the identity of the asset that owns the hit
func (h SearchHit) Identity() AssetIdentity {
	return AssetIdentity{Path: h.AssetPath, Type: h.AssetType}
}
