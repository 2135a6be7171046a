package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_Matches(t *testing.T) {
	payload := map[string]any{
		"kind":      "entity",
		"projectId": "default",
		"type":      "person",
		"count":     float64(3),
		"active":    true,
	}

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil filter", nil, true},
		{"empty filter", &Filter{}, true},
		{"must all hold", And(Match("kind", "entity"), Match("projectId", "default")), true},
		{"must one fails", And(Match("kind", "entity"), Match("projectId", "other")), false},
		{"missing key", And(Match("absent", "x")), false},
		{"int matches float", And(Match("count", 3)), true},
		{"bool", And(Match("active", true)), true},
		{"string is not bool", And(Match("active", "true")), false},
		{"should one holds", &Filter{Should: []Condition{Match("type", "org"), Match("type", "person")}}, true},
		{"should none holds", &Filter{Should: []Condition{Match("type", "org"), Match("type", "place")}}, false},
		{"must not", &Filter{MustNot: []Condition{Match("type", "person")}}, false},
		{"match any", And(Match("kind", "entity"), MatchAny("type", "org", "person")), true},
		{"match any miss", And(MatchAny("type", "org", "place")), false},
		{
			"nested must not",
			And(Nested(&Filter{MustNot: []Condition{Match("projectId", "archive")}})),
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(payload))
		})
	}
}

func TestFilter_IsEmpty(t *testing.T) {
	var nilFilter *Filter
	assert.True(t, nilFilter.IsEmpty())
	assert.True(t, (&Filter{}).IsEmpty())
	assert.False(t, And(Match("a", "b")).IsEmpty())
}

func TestFilter_TopLevelEquals(t *testing.T) {
	f := And(
		Match("kind", "entity"),
		Match("count", 2),
		MatchAny("type", "a", "b"),
	)
	assert.Equal(t, map[string]string{"kind": "entity"}, f.topLevelEquals())
	assert.False(t, pushedDown(f))
	assert.True(t, pushedDown(And(Match("kind", "entity"), Match("projectId", "p"))))
	assert.True(t, pushedDown(nil))
}
