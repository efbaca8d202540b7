package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyAssetPath = errors.New("asset path cannot be empty")
	ErrEmptyAssetType = errors.New("asset type cannot be empty")
	ErrEmptyPayload   = errors.New("property payload is empty")
)
