package util

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPLimitedGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("12345"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("a", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	body, err := HTTPLimitedGet(context.Background(), srv.Client(), srv.URL+"/ok", 0)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(body))

	_, err = HTTPLimitedGet(context.Background(), srv.Client(), srv.URL+"/big", 16)
	assert.ErrorContains(t, err, "exceeded maximum size")

	_, err = HTTPLimitedGet(context.Background(), nil, srv.URL+"/missing", 0)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}
