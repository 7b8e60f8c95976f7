package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnlyDigits(t *testing.T) {
	assert.Equal(t, "12345678901", OnlyDigits("123.456.789-01"))
	assert.Equal(t, "11999998888", OnlyDigits("(11) 99999-8888"))
	assert.Equal(t, "", OnlyDigits("abc"))
}

func TestCPF(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"123", "123"},
		{"1234", "123.4"},
		{"123456", "123.456"},
		{"1234567", "123.456.7"},
		{"123456789", "123.456.789"},
		{"1234567890", "123.456.789-0"},
		{"12345678901", "123.456.789-01"},
		{"123.456.789-01", "123.456.789-01"},
		// excedente é descartado
		{"1234567890199", "123.456.789-01"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CPF(c.in), "CPF(%q)", c.in)
	}
}

func TestPhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"11", "11"},
		{"119", "(11) 9"},
		{"119999", "(11) 9999"},
		{"1199998", "(11) 9999-8"},
		{"1133334444", "(11) 3333-4444"},
		{"11999998888", "(11) 99999-8888"},
		{"(11) 99999-8888", "(11) 99999-8888"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Phone(c.in), "Phone(%q)", c.in)
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "11*****8888", MaskPhone("(11) 99999-8888"))
	assert.Equal(t, "***", MaskPhone("123"))
}

func TestDocumentHashIgnoresMask(t *testing.T) {
	a := DocumentHash("123.456.789-01")
	b := DocumentHash("12345678901")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "12345678901")
}

func TestValidEmail(t *testing.T) {
	for _, e := range []string{"ana@example.com", "a.b+c@clinica.com.br"} {
		assert.True(t, ValidEmail(e), e)
	}
	for _, e := range []string{"", "ana", "ana@", "@x.com", "ana@x", "ana silva@x.com", "ana@x."} {
		assert.False(t, ValidEmail(e), e)
	}
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***@example.com", MaskEmail("ana@example.com"))
	assert.Equal(t, "***", MaskEmail("abc"))
	assert.NotContains(t, MaskEmail("joaquim@x.com"), "joaquim")
}
