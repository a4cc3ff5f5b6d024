package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSPAHandler(t *testing.T) {
	root := fstest.MapFS{
		"index.html":       {Data: []byte("<div id=root></div>")},
		"assets/app.js":    {Data: []byte("console.log(1)")},
		"assets/style.css": {Data: []byte("body{}")},
	}
	h, err := newSPAHandler(root, zap.NewNop())
	require.NoError(t, err)

	tests := []struct {
		path string
		body string
	}{
		{"/", "<div id=root></div>"},
		{"/assets/app.js", "console.log(1)"},
		{"/verify/987field", "<div id=root></div>"},
		{"/assets", "<div id=root></div>"},
		{"/../../etc/passwd", "<div id=root></div>"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSPAHandlerRequiresIndex(t *testing.T) {
	_, err := newSPAHandler(fstest.MapFS{"app.js": {Data: []byte("x")}}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewStaticHandler(t.TempDir(), zap.NewNop())
	assert.Error(t, err)
}
