package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healapp/backend/internal/consultation"
)

func TestValidateEmailRegex(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"a@b.com", true},
		{"a+b@b.com.br", true},
		{"", false},
		{"   ", false},
		{"a@", false},
		{"@b.com", false},
		{"a@b", false},
		{"a b@c.com", false},
	}
	for _, c := range cases {
		err := ValidateEmailRegex(c.in)
		if (err == nil) != c.want {
			t.Fatalf("email=%q wantOk=%v gotErr=%v", c.in, c.want, err)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("12345678"))
	assert.ErrorIs(t, ValidatePassword("1234567"), ErrInvalidPassword)
	assert.ErrorIs(t, ValidatePassword("   abc   "), ErrInvalidPassword)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("a", 73)), ErrInvalidPassword)
}

func TestFiltersFromQuery(t *testing.T) {
	svc := consultation.NewService(nil)

	r := httptest.NewRequest("GET", "/api/consultations?patientName=ana&document=123.456&startDate=2025-06-01", nil)
	f, err := filtersFromQuery(r, svc)
	require.NoError(t, err)
	assert.Equal(t, "ana", f.PatientName)
	assert.Equal(t, "123.456", f.Document)
	assert.Equal(t, "2025-06-01", f.StartDate)
	assert.Empty(t, f.EndDate)

	r = httptest.NewRequest("GET", "/api/consultations?endDate=01/06/2025", nil)
	_, err = filtersFromQuery(r, svc)
	assert.ErrorIs(t, err, ErrInvalidDay)
}
