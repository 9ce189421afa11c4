// Package stix holds the STIX 2.0 knowledge huntflows depend on: the
// entity-type catalog, the reference mapping FIND traverses, identity
// attributes used by JOIN and NEW, and the attributes treated as timestamps.
package stix

import (
	"slices"
	"strings"
)

// IDAttr is the STIX object identifier column carried by every entity row.
const IDAttr = "id"

// entityTypes lists the STIX 2.0 cyber observable types plus the OCA event
// and asset extensions.
var entityTypes = []string{
	"artifact",
	"autonomous-system",
	"directory",
	"domain-name",
	"email-addr",
	"email-message",
	"file",
	"ipv4-addr",
	"ipv6-addr",
	"mac-addr",
	"mutex",
	"network-traffic",
	"process",
	"software",
	"url",
	"user-account",
	"windows-registry-key",
	"x-oca-asset",
	"x-oca-event",
	"x509-certificate",
}

// EntityTypes returns the catalog of known entity types in sorted order.
func EntityTypes() []string {
	return slices.Clone(entityTypes)
}

// IsEntityType reports whether t names a known entity type. Custom types
// following the STIX `x-` prefix convention are accepted as well.
func IsEntityType(t string) bool {
	if _, found := slices.BinarySearch(entityTypes, t); found {
		return true
	}
	return strings.HasPrefix(t, "x-") && len(t) > 2
}

// identityAttrs lists, per entity type, candidate attributes that identify
// an entity when the STIX id is not shared between two row sets. The first
// candidate present wins.
var identityAttrs = map[string][]string{
	"directory":            {"path"},
	"domain-name":          {"value"},
	"email-addr":           {"value"},
	"file":                 {"name"},
	"ipv4-addr":            {"value"},
	"ipv6-addr":            {"value"},
	"mac-addr":             {"value"},
	"mutex":                {"name"},
	"process":              {"pid", "name"},
	"software":             {"name"},
	"url":                  {"value"},
	"user-account":         {"user_id"},
	"windows-registry-key": {"key"},
}

// IdentityAttributes returns the identity candidates for an entity type, or
// nil when the type only identifies by id.
func IdentityAttributes(entityType string) []string {
	return slices.Clone(identityAttrs[entityType])
}

// DefaultAttribute is the attribute a raw scalar in `NEW type [...]` is
// assigned to: the first identity attribute, falling back to "value".
func DefaultAttribute(entityType string) string {
	if attrs := identityAttrs[entityType]; len(attrs) > 0 {
		switch entityType {
		case "process":
			// A bare string for a process is its name, not its pid.
			return "name"
		}
		return attrs[0]
	}
	return "value"
}

// DefaultTimestampAttributes are normalized on ingest and accepted by BIN
// as time buckets.
var DefaultTimestampAttributes = []string{
	"first_observed",
	"last_observed",
	"created",
	"modified",
	"ctime",
	"mtime",
	"atime",
	"start",
	"end",
}
