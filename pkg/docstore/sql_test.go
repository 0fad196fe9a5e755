package docstore

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesFilters(t *testing.T) {
	doc := Document{
		ID: "d1",
		Fields: map[string]any{
			"region": "seoul",
			"stage":  float64(3), // JSON round-trips numbers as float64
		},
	}

	assert.True(t, MatchesFilters(doc, nil))
	assert.True(t, MatchesFilters(doc, map[string]any{"region": "seoul"}))
	assert.True(t, MatchesFilters(doc, map[string]any{"stage": 3}),
		"numeric predicates compare loosely across types")
	assert.False(t, MatchesFilters(doc, map[string]any{"region": "busan"}))
	assert.False(t, MatchesFilters(doc, map[string]any{"missing": "x"}))
	assert.False(t, MatchesFilters(Document{ID: "empty"}, map[string]any{"region": "seoul"}))
}

func TestApplyFilters(t *testing.T) {
	docs := []Document{
		{ID: "a", Fields: map[string]any{"region": "seoul"}},
		{ID: "b", Fields: map[string]any{"region": "busan"}},
	}

	assert.Len(t, applyFilters(docs, nil), 2)

	filtered := applyFilters(docs, map[string]any{"region": "busan"})
	assert.Len(t, filtered, 1)
	assert.Equal(t, "b", filtered[0].ID)
}

func TestFtsQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"potassium diet", `"potassium" "diet"`},
		{"저칼륨 식단", `"저칼륨" "식단"`},
		{`vitamin "D" dosage`, `"vitamin" "D" "dosage"`},
		{"NEAR(operator)", `"NEAR(operator)"`},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ftsQuery(tt.in))
	}
}

func TestDecodeFields(t *testing.T) {
	assert.Nil(t, decodeFields(sql.NullString{}))
	assert.Nil(t, decodeFields(sql.NullString{Valid: true, String: ""}))
	assert.Nil(t, decodeFields(sql.NullString{Valid: true, String: "not json"}))

	fields := decodeFields(sql.NullString{Valid: true, String: `{"region":"seoul","stage":3}`})
	assert.Equal(t, "seoul", fields["region"])
	assert.Equal(t, float64(3), fields["stage"])
}
