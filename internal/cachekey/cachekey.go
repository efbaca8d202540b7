// Package cachekey computes the content-addressable key that identifies one
// exact extraction output for an asset.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/dshills/assetsearch/pkg/types"
)

const (
	// ToolName prefixes every key
	ToolName = "AssetSearch"

	// SerializerVersion must be bumped whenever the stored payload format
	// changes; doing so invalidates every previously computed key
	SerializerVersion = 1
)

// Compute returns the cache key for id given its backing file's content hash
// and the version string of every extractor affecting it. The result is
// stable ASCII of the form
//
//	AssetSearch_V<serializer>_<extractorVersions>_<identityHash>_<fileHash>
func Compute(id types.AssetIdentity, fileHash, extractorVersions string) string {
	var b strings.Builder
	b.Grow(len(ToolName) + len(extractorVersions) + len(fileHash) + 48)
	b.WriteString(ToolName)
	b.WriteString("_V")
	b.WriteString(strconv.Itoa(SerializerVersion))
	b.WriteByte('_')
	b.WriteString(extractorVersions)
	b.WriteByte('_')
	b.WriteString(IdentityHash(id))
	b.WriteByte('_')
	b.WriteString(fileHash)
	return b.String()
}

// IdentityHash hashes the asset's stable identity (path and type)
func IdentityHash(id types.AssetIdentity) string {
	sum := sha256.Sum256([]byte(id.Type + "\x00" + id.Path))
	return strings.ToUpper(hex.EncodeToString(sum[:12]))
}
