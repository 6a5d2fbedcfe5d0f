package classification

import (
	"strings"
	"testing"

	"formrelay/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestMessageScore(t *testing.T) {
	assert.Equal(t, -1, MessageScore("textarea", "   "))
	assert.Equal(t, 100005, MessageScore("textarea", " hello "))
	assert.Equal(t, 100005, MessageScore("Textarea", "hello"))
	assert.Equal(t, 10005, MessageScore("textbox", "hello"))
	assert.Equal(t, 10004, MessageScore("text", "żółw"))

	// a very long textbox never beats a one-character textarea
	long := strings.Repeat("x", 2000000)
	assert.Equal(t, 10000+maxLengthCredit, MessageScore("textbox", long))
	assert.Less(t, MessageScore("textbox", long), MessageScore("textarea", "x"))
}

func TestIsWeakText(t *testing.T) {
	weak := []any{nil, "", " ", "-", "N/A", "na", "NULL", "none", "brak", `n\a`, "x", []any{"long text"}}
	for _, v := range weak {
		assert.True(t, IsWeakText(v), "%#v", v)
	}

	strong := []any{"ok", "Proszę o kontakt", 42, 1.5}
	for _, v := range strong {
		assert.False(t, IsWeakText(v), "%#v", v)
	}
}

func TestIsMessageEligible(t *testing.T) {
	tests := []struct {
		name      string
		fieldType string
		label     string
		key       string
		value     any
		want      bool
	}{
		{"textarea", "textarea", "opis", "f1", "hello", true},
		{"rich text", "textarea_rte", "opis", "f1", "<p>hi</p>", true},
		{"hidden", "hidden", "message", "f1", "hello", false},
		{"analytics type", "user-analytics-source", "message", "f1", "hello", false},
		{"tracking label", "textbox", "utm campaign", "f1", "hello", false},
		{"tracking key", "textbox", "notes", "pys landing page", "hello", false},
		{"blank value", "textarea", "opis", "f1", "  ", false},
		{"number type", "number", "opis", "f1", 5, false},
		{"email type", "email", "message", "f1", "a@b.c", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMessageEligible(tt.fieldType, tt.label, tt.key, tt.value))
		})
	}
}

func TestMessageScorer_StrictlyGreaterWins(t *testing.T) {
	s := &messageScorer{}
	a := &domain.FieldDescriptor{Key: "a", Type: "textarea", Value: "same"}
	b := &domain.FieldDescriptor{Key: "b", Type: "textarea", Value: "same"}
	c := &domain.FieldDescriptor{Key: "c", Type: "hidden", Value: "much longer hidden text"}

	_, ok := s.Offer(0, a, "opis", "a")
	assert.True(t, ok)
	_, ok = s.Offer(1, b, "opis", "b")
	assert.True(t, ok)
	_, ok = s.Offer(2, c, "opis", "c")
	assert.False(t, ok)

	best := s.Best()
	if assert.NotNil(t, best) {
		assert.Equal(t, "a", best.Field.Key)
		assert.Equal(t, 0, best.Index)
		assert.Equal(t, 100004, best.Score)
	}
}
