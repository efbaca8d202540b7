// Package types provides shared type definitions for the asset search engine.
//
// # Core Types
//
// AssetIdentity names an asset by its fully qualified path and declared type:
//
//	id := types.AssetIdentity{Path: "/Game/Props/Chair", Type: "StaticMesh"}
//	id.Name() // "Chair"
//
// Property is the flat row an extractor produces. PropertyList wraps the rows
// for one asset and is the payload exchanged with the build cache:
//
//	list := types.PropertyList{Properties: []types.Property{
//	    {ObjectName: "Chair", PropertyName: "Material", ValueText: "Oak"},
//	}}
//	data, _ := list.Marshal()
//
// # Search Results
//
// SearchHit carries the asset, container object and property context of a
// full-text match together with the engine's bm25 score (lower is better).
package types
