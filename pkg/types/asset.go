package types

import (
	"encoding/json"
	"strings"
	"time"
)

// AssetIdentity identifies an asset by its fully qualified location and declared type
type AssetIdentity struct {
	Path string // e.g. "/Game/Props/Chair"; unique within a store
	Type string // declared asset type name, e.g. "StaticMesh"
}

// Name returns the asset's short name, the final path segment
func (a AssetIdentity) Name() string {
	path := strings.TrimRight(a.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.LastIndex(path, "."); i > 0 {
		path = path[i+1:]
	}
	return path
}

// Validate checks if the identity can be stored
func (a AssetIdentity) Validate() error {
	if strings.TrimSpace(a.Path) == "" {
		return ErrEmptyAssetPath
	}
	if strings.TrimSpace(a.Type) == "" {
		return ErrEmptyAssetType
	}
	return nil
}

func (a AssetIdentity) String() string {
	return a.Type + " " + a.Path
}

// Property is one searchable row produced by an extractor.
// An asset may hold several logical sub-objects (graph nodes, components),
// each identified by the Object* fields.
type Property struct {
	ObjectName        string `json:"object_name"`
	ObjectPath        string `json:"object_path,omitempty"`
	ObjectNativeClass string `json:"object_native_class,omitempty"`
	PropertyName      string `json:"property_name"`
	PropertyField     string `json:"property_field,omitempty"`
	PropertyClass     string `json:"property_class,omitempty"`
	ValueText         string `json:"value_text"`
	ValueHidden       string `json:"value_hidden,omitempty"`
}

// PropertyList is the extraction payload for one asset, the unit stored in the
// build cache and written to the search store
type PropertyList struct {
	Properties []Property `json:"properties"`
}

// Marshal serializes the payload for the build cache
func (p PropertyList) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPropertyList decodes a payload previously produced by Marshal
func UnmarshalPropertyList(data []byte) (PropertyList, error) {
	var list PropertyList
	if len(data) == 0 {
		return list, ErrEmptyPayload
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return list, err
	}
	return list, nil
}

// FileInfo describes the backing file of an asset as last seen by the file hash cache
type FileInfo struct {
	Path    string // case-normalized
	ModTime time.Time
	Hash    string // hex content hash; empty when the file could not be read
}

// IsValid reports whether the hash could be computed
func (f FileInfo) IsValid() bool {
	return f.Hash != ""
}
