package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	testCases := []struct {
		header  string
		start   int64
		end     int64
		present bool
		invalid bool
	}{
		{header: "", present: false},
		{header: "0-99", start: 0, end: 99, present: true},
		{header: "100-249", start: 100, end: 249, present: true},
		{header: "0-0", start: 0, end: 0, present: true},
		{header: "banana", invalid: true},
		{header: "100-", invalid: true},
		{header: "-100", invalid: true},
		{header: "250-100", invalid: true},
	}

	for _, tc := range testCases {
		t.Run(tc.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPatch, "/", nil)
			if tc.header != "" {
				r.Header.Set("Content-Range", tc.header)
			}

			start, end, present, err := parseContentRange(r)
			if tc.invalid {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.present, present)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
		})
	}
}

func TestRangeHeader(t *testing.T) {
	assert.Equal(t, "0-0", rangeHeader(0))
	assert.Equal(t, "0-0", rangeHeader(1))
	assert.Equal(t, "0-99", rangeHeader(100))
}

func TestCopyFullPayload(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: true})
	ctx := app.context(httptest.NewRequest(http.MethodPut, "/", nil))

	r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader("payload"))
	p, err := copyFullPayload(ctx, r, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), p)

	r = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(strings.Repeat("x", 101)))
	_, err = copyFullPayload(ctx, r, 100)
	require.Error(t, err)
}
