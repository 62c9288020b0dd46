package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLimitOffset(t *testing.T) {
	cases := []struct {
		query         string
		limit, offset int
	}{
		{"", 20, 0},
		{"limit=5&offset=10", 5, 10},
		{"limit=500", 100, 0},
		{"limit=0&offset=-3", 20, 0},
		{"limit=abc&offset=x", 20, 0},
	}
	for _, c := range cases {
		r := httptest.NewRequest("GET", "/api/payments?"+c.query, nil)
		limit, offset := ParseLimitOffset(r)
		assert.Equal(t, c.limit, limit, c.query)
		assert.Equal(t, c.offset, offset, c.query)
	}
}
