package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimaryEmail(t *testing.T) {
	assert.Nil(t, PrimaryEmail(nil))
	assert.Nil(t, PrimaryEmail([]string{"", "  "}))

	got := PrimaryEmail([]string{" ", " Ann@Example.COM ", "b@example.com"})
	require.NotNil(t, got)
	assert.Equal(t, "ann@example.com", *got)
}

func TestPrimaryPhone(t *testing.T) {
	tests := []struct {
		name     string
		mobile   string
		business []string
		home     []string
		want     string
	}{
		{"mobile first", "+1 555", []string{"b"}, []string{"h"}, "+1 555"},
		{"business before home", "", []string{"", "b1"}, []string{"h1"}, "b1"},
		{"home last", " ", nil, []string{"h1"}, "h1"},
		{"none", "", nil, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Deref(PrimaryPhone(tt.mobile, tt.business, tt.home)))
		})
	}
}

func TestPrimaryAddress(t *testing.T) {
	home := Address{City: "Leeds"}
	other := Address{City: "York"}

	assert.Equal(t, home, PrimaryAddress(Address{}, home, other))
	assert.Equal(t, other, PrimaryAddress(Address{}, Address{}, other))
	assert.True(t, PrimaryAddress(Address{}, Address{}, Address{}).Empty())

	var c Contact
	c.SetAddress(Address{Street: "1 Main St", Country: "UK"})
	assert.Equal(t, "1 Main St", Deref(c.Street))
	assert.Nil(t, c.City)
}

func TestJSONColumns(t *testing.T) {
	v, err := Strings(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var s Strings
	require.NoError(t, s.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, Strings{"a", "b"}, s)

	var a Attendees
	require.NoError(t, a.Scan(`[{"email":"x@example.com","type":"required"}]`))
	require.Len(t, a, 1)
	assert.Equal(t, "x@example.com", a[0].Email)

	assert.Error(t, a.Scan(42))
}

func TestMillisPtr(t *testing.T) {
	assert.Nil(t, MillisPtr(nil))
	assert.Nil(t, MillisPtr(&time.Time{}))

	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NotNil(t, MillisPtr(&ts))
	assert.Equal(t, ts.UnixMilli(), *MillisPtr(&ts))
}
