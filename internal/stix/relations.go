package stix

import (
	"fmt"
	"slices"
	"strings"
)

// Relation names accepted by FIND.
const (
	Created   = "created"
	Accepted  = "accepted"
	Contained = "contained"
	Loaded    = "loaded"
	Owned     = "owned"

	// Linked is undirected: it matches every reference between the two
	// entity types, including unnamed ones.
	Linked = "linked"
)

// triple is (X, relation, Y), read "X <relation> Y". An empty relation marks
// a reference that only Linked reaches.
type triple struct {
	x, rel, y string
}

// refs names the reference attributes realizing a triple. xRefs are held by
// X entities and point at Y ids; yRefs are held by Y entities and point at
// X ids. Attributes ending in `_refs` hold lists of ids.
type refs struct {
	xRefs, yRefs []string
}

var refMapping = map[triple]refs{
	// file
	{"file", Contained, "artifact"}:        {xRefs: []string{"content_ref"}},
	{"directory", Contained, "directory"}:  {xRefs: []string{"contains_refs"}},
	{"directory", Contained, "file"}:       {xRefs: []string{"contains_refs"}, yRefs: []string{"parent_directory_ref"}},
	{"archive-ext", Contained, "file"}:     {xRefs: []string{"contains_refs"}},
	{"user-account", Owned, "email-addr"}:  {yRefs: []string{"belongs_to_ref"}},
	{"email-addr", Created, "email-message"}: {
		yRefs: []string{"from_ref", "sender_ref"},
	},
	{"email-addr", Accepted, "email-message"}: {
		yRefs: []string{"to_refs", "cc_refs", "bcc_refs"},
	},
	{"email-message", "", "artifact"}: {xRefs: []string{"raw_email_ref", "body_raw_ref"}},
	{"email-message", "", "file"}:     {xRefs: []string{"body_raw_ref"}},

	// ip address
	{"autonomous-system", Owned, "ipv4-addr"}: {yRefs: []string{"belongs_to_refs"}},
	{"autonomous-system", Owned, "ipv6-addr"}: {yRefs: []string{"belongs_to_refs"}},
	{"mac-addr", "", "ipv4-addr"}:             {yRefs: []string{"resolves_to_refs"}},
	{"mac-addr", "", "ipv6-addr"}:             {yRefs: []string{"resolves_to_refs"}},

	// network-traffic
	{"ipv4-addr", Created, "network-traffic"}:       {yRefs: []string{"src_ref"}},
	{"ipv6-addr", Created, "network-traffic"}:       {yRefs: []string{"src_ref"}},
	{"mac-addr", Created, "network-traffic"}:        {yRefs: []string{"src_ref"}},
	{"domain-name", Created, "network-traffic"}:     {yRefs: []string{"src_ref"}},
	{"artifact", Created, "network-traffic"}:        {yRefs: []string{"src_payload_ref"}},
	{"ipv4-addr", Accepted, "network-traffic"}:      {yRefs: []string{"dst_ref"}},
	{"ipv6-addr", Accepted, "network-traffic"}:      {yRefs: []string{"dst_ref"}},
	{"mac-addr", Accepted, "network-traffic"}:       {yRefs: []string{"dst_ref"}},
	{"domain-name", Accepted, "network-traffic"}:    {yRefs: []string{"dst_ref"}},
	{"artifact", Accepted, "network-traffic"}:       {yRefs: []string{"dst_payload_ref"}},
	{"http-request-ext", "", "artifact"}:            {xRefs: []string{"message_body_data_ref"}},
	{"network-traffic", Contained, "network-traffic"}: {
		xRefs: []string{"encapsulates_refs"},
		yRefs: []string{"encapsulated_by_ref"},
	},

	// process
	{"process", Created, "network-traffic"}: {xRefs: []string{"opened_connection_refs"}},
	{"user-account", Owned, "process"}:      {yRefs: []string{"creator_user_ref"}},
	{"process", Loaded, "file"}:             {xRefs: []string{"binary_ref"}},
	{"process", Created, "process"}:         {yRefs: []string{"parent_ref"}},

	// service
	{"windows-service-ext", Loaded, "file"}:         {xRefs: []string{"service_dll_refs"}},
	{"windows-service-ext", Loaded, "user-account"}: {xRefs: []string{"creator_user_ref"}},
}

// Link is one reference attribute connecting FIND's input rows to its
// result rows.
type Link struct {
	// Attr is the reference attribute name.
	Attr string

	// OnResult is true when Attr is held by result rows and points at input
	// ids; false when it is held by input rows and points at result ids.
	OnResult bool
}

// Multi reports whether the reference holds a list of ids.
func (l Link) Multi() bool {
	return strings.HasSuffix(l.Attr, "_refs")
}

func (l Link) String() string {
	if l.OnResult {
		return "result." + l.Attr + " -> input.id"
	}
	return "input." + l.Attr + " -> result.id"
}

// RelationError reports a FIND whose relation does not connect the two
// entity types in the requested direction.
type RelationError struct {
	ResultType string
	Relation   string
	InputType  string
	Reversed   bool
}

func (e *RelationError) Error() string {
	dir := ""
	if e.Reversed {
		dir = " BY"
	}
	if !IsRelation(e.Relation) {
		return fmt.Sprintf("unknown relation %q", e.Relation)
	}
	return fmt.Sprintf("no %q relation from %s%s %s", e.Relation, e.ResultType, dir, e.InputType)
}

// Relations returns every relation name FIND accepts, sorted.
func Relations() []string {
	seen := map[string]bool{Linked: true}
	for t := range refMapping {
		if t.rel != "" {
			seen[t.rel] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRelation reports whether name is a relation FIND accepts.
func IsRelation(name string) bool {
	return slices.Contains(Relations(), name)
}

// Links resolves `FIND resultType relation [BY] <inputType var>` to the
// reference attributes to traverse.
//
// Without BY the result entities are the relation's subject: `FIND process
// CREATED conns` yields processes that created conns. With BY the input
// entities are the subject: `FIND process CREATED BY procs` yields processes
// created by procs. Linked ignores direction.
//
// Links returns a *RelationError when nothing connects the two types.
func Links(resultType, relation, inputType string, reversed bool) ([]Link, error) {
	relation = strings.ToLower(relation)
	var links []Link

	if relation == Linked {
		// Iterate in a fixed order so traversal SQL is deterministic.
		for _, t := range sortedTriples() {
			if t.x == resultType && t.y == inputType {
				links = appendLinks(links, refMapping[t], true)
			}
			if t.y == resultType && t.x == inputType {
				links = appendLinks(links, refMapping[t], false)
			}
		}
	} else if IsRelation(relation) {
		if reversed {
			if r, ok := refMapping[triple{inputType, relation, resultType}]; ok {
				links = appendLinks(links, r, false)
			}
		} else if r, ok := refMapping[triple{resultType, relation, inputType}]; ok {
			links = appendLinks(links, r, true)
		}
	}

	if len(links) == 0 {
		return nil, &RelationError{
			ResultType: resultType,
			Relation:   relation,
			InputType:  inputType,
			Reversed:   reversed,
		}
	}
	return links, nil
}

// appendLinks adds r's references, orienting them by whether the result
// side plays X.
func appendLinks(links []Link, r refs, resultIsX bool) []Link {
	for _, attr := range r.xRefs {
		links = appendUnique(links, Link{Attr: attr, OnResult: resultIsX})
	}
	for _, attr := range r.yRefs {
		links = appendUnique(links, Link{Attr: attr, OnResult: !resultIsX})
	}
	return links
}

func appendUnique(links []Link, l Link) []Link {
	if slices.Contains(links, l) {
		return links
	}
	return append(links, l)
}

func sortedTriples() []triple {
	ts := make([]triple, 0, len(refMapping))
	for t := range refMapping {
		ts = append(ts, t)
	}
	slices.SortFunc(ts, func(a, b triple) int {
		return strings.Compare(a.x+"\x00"+a.rel+"\x00"+a.y, b.x+"\x00"+b.rel+"\x00"+b.y)
	})
	return ts
}
