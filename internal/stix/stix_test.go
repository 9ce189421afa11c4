package stix

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityTypesSorted(t *testing.T) {
	types := EntityTypes()
	assert.True(t, slices.IsSorted(types))

	types[0] = "mutated"
	assert.Equal(t, "artifact", EntityTypes()[0], "EntityTypes must return a copy")
}

func TestIsEntityType(t *testing.T) {
	assert.True(t, IsEntityType("process"))
	assert.True(t, IsEntityType("network-traffic"))
	assert.True(t, IsEntityType("x-custom-thing"))
	assert.False(t, IsEntityType("x-"))
	assert.False(t, IsEntityType("proc"))
	assert.False(t, IsEntityType(""))
}

func TestDefaultAttribute(t *testing.T) {
	tests := map[string]string{
		"process":              "name",
		"file":                 "name",
		"directory":            "path",
		"user-account":         "user_id",
		"windows-registry-key": "key",
		"ipv4-addr":            "value",
		"network-traffic":      "value",
		"x-anything":           "value",
	}
	for entityType, want := range tests {
		assert.Equal(t, want, DefaultAttribute(entityType), entityType)
	}
}

func TestIdentityAttributes(t *testing.T) {
	assert.Equal(t, []string{"pid", "name"}, IdentityAttributes("process"))
	assert.Nil(t, IdentityAttributes("network-traffic"))
}

func TestRelations(t *testing.T) {
	assert.Equal(t, []string{"accepted", "contained", "created", "linked", "loaded", "owned"}, Relations())
	assert.True(t, IsRelation("linked"))
	assert.False(t, IsRelation(""))
	assert.False(t, IsRelation("spawned"))
}

func TestLinks(t *testing.T) {
	tests := []struct {
		name      string
		result    string
		relation  string
		input     string
		reversed  bool
		wantLinks []Link
	}{
		{
			name:      "parents of processes",
			result:    "process",
			relation:  "created",
			input:     "process",
			wantLinks: []Link{{Attr: "parent_ref", OnResult: false}},
		},
		{
			name:      "children of processes",
			result:    "process",
			relation:  "created",
			input:     "process",
			reversed:  true,
			wantLinks: []Link{{Attr: "parent_ref", OnResult: true}},
		},
		{
			name:      "processes that created connections",
			result:    "process",
			relation:  "CREATED",
			input:     "network-traffic",
			wantLinks: []Link{{Attr: "opened_connection_refs", OnResult: true}},
		},
		{
			name:      "connections created by processes",
			result:    "network-traffic",
			relation:  "created",
			input:     "process",
			reversed:  true,
			wantLinks: []Link{{Attr: "opened_connection_refs", OnResult: false}},
		},
		{
			name:     "directory containing files uses both references",
			result:   "directory",
			relation: "contained",
			input:    "file",
			wantLinks: []Link{
				{Attr: "contains_refs", OnResult: true},
				{Attr: "parent_directory_ref", OnResult: false},
			},
		},
		{
			name:     "linked is undirected",
			result:   "process",
			relation: "linked",
			input:    "process",
			wantLinks: []Link{
				{Attr: "parent_ref", OnResult: false},
				{Attr: "parent_ref", OnResult: true},
			},
		},
		{
			name:      "linked reaches unnamed references",
			result:    "artifact",
			relation:  "linked",
			input:     "email-message",
			wantLinks: []Link{{Attr: "raw_email_ref", OnResult: false}, {Attr: "body_raw_ref", OnResult: false}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links, err := Links(tt.result, tt.relation, tt.input, tt.reversed)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLinks, links)
		})
	}
}

func TestLinksErrors(t *testing.T) {
	_, err := Links("process", "spawned", "process", false)
	var re *RelationError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), `unknown relation "spawned"`)

	_, err = Links("file", "created", "process", false)
	require.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), `no "created" relation from file process`)

	_, err = Links("process", "loaded", "file", true)
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Reversed)
}

func TestLinkMulti(t *testing.T) {
	assert.True(t, Link{Attr: "opened_connection_refs"}.Multi())
	assert.False(t, Link{Attr: "parent_ref"}.Multi())
	assert.Equal(t, "input.parent_ref -> result.id", Link{Attr: "parent_ref"}.String())
}
