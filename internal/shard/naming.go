package shard

import "strings"

// NamingTransform embeds a shard's identity into a stored name, keeping
// names unique across all shards of one logical namespace and allowing the
// shard to be recovered from the stored name later on.
type NamingTransform interface {
	Name(conventions Conventions, shardID, baseName string) string
}

// NamingTransformFunc adapts a function to the NamingTransform interface.
type NamingTransformFunc func(conventions Conventions, shardID, baseName string) string

// Name calls f(conventions, shardID, baseName).
func (f NamingTransformFunc) Name(conventions Conventions, shardID, baseName string) string {
	return f(conventions, shardID, baseName)
}

// DefaultNaming prefixes the base name with the shard id, surrounded by the
// identity parts separator: "/" + "east" + "/" + "report.pdf" yields
// "/east/report.pdf".
type DefaultNaming struct{}

// Name implements NamingTransform.
func (DefaultNaming) Name(conventions Conventions, shardID, baseName string) string {
	sep := conventions.IdentityPartsSeparator
	return sep + shardID + sep + baseName
}

// SplitName reverses DefaultNaming, returning the shard id and base name
// embedded in a composite name. It reports false for names that do not
// carry a shard id.
func SplitName(conventions Conventions, name string) (shardID, baseName string, ok bool) {
	sep := conventions.IdentityPartsSeparator
	if sep == "" || !strings.HasPrefix(name, sep) {
		return "", "", false
	}
	shardID, baseName, ok = strings.Cut(name[len(sep):], sep)
	if !ok || shardID == "" {
		return "", "", false
	}
	return shardID, baseName, true
}
