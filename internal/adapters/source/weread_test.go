package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeReadAdapter_FetchBooks_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "wr_skey=abc; wr_vid=42", r.Header.Get("Cookie"))
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		assert.Equal(t, "http://"+r.Host, r.Header.Get("Origin"))
		assert.Equal(t, "http://"+r.Host+"/", r.Header.Get("Referer"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
  "books": [
    {"book": {"title": "三体", "author": "刘慈欣", "readingProgress": 100, "markedStatus": 4,
              "cover": "https://cdn.example.com/3body.jpg",
              "categories": [{"title": "科幻"}], "finishReadingTime": 1700000000}},
    {"book": {"title": "Dune", "author": "Frank Herbert", "readingProgress": 35, "markedStatus": 2}},
    {"book": null}
  ]
}`)
	}))
	defer server.Close()

	adapter := NewWeReadAdapter(server.URL+"/web/shelf/sync", "wr_skey=abc; wr_vid=42", 5*time.Second, nil)

	books, err := adapter.FetchBooks(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 2)

	assert.Equal(t, "三体", books[0]["title"])
	assert.Equal(t, json.Number("1700000000"), books[0]["finishReadingTime"])
	assert.Equal(t, "Dune", books[1]["title"])
}

func TestWeReadAdapter_FetchBooks_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"books": []}`)
	}))
	defer server.Close()

	adapter := NewWeReadAdapter(server.URL, "c", 5*time.Second, nil)

	books, err := adapter.FetchBooks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestWeReadAdapter_FetchBooks_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "non-200",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			want: "status: 401",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<html>login</html>`)
			},
			want: "decode",
		},
		{
			name: "expired session",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"errcode": -2012, "errmsg": "登录超时"}`)
			},
			want: "errcode -2012",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			adapter := NewWeReadAdapter(server.URL, "c", 5*time.Second, nil)
			_, err := adapter.FetchBooks(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWeReadAdapter_FetchBooks_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	adapter := NewWeReadAdapter(server.URL, "c", 50*time.Millisecond, nil)
	_, err := adapter.FetchBooks(context.Background())
	require.Error(t, err)
}

func TestWeReadAdapter_FetchBooks_NoURL(t *testing.T) {
	adapter := &WeReadAdapter{}
	_, err := adapter.FetchBooks(context.Background())
	require.Error(t, err)
}
