package rag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDocument_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("The grace period\nfor premium payment   is thirty days."))
	}))
	defer srv.Close()

	loader := NewDocumentLoader(nil, nil)
	doc, err := loader.LoadDocument(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, srv.URL, doc.SourceURL)
	assert.WithinDuration(t, time.Now(), doc.LoadedAt, time.Minute)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, 1, doc.Pages[0].Number)
	assert.Equal(t, "The grace period for premium payment is thirty days. ", doc.Pages[0].Text)
}

func TestLoadDocument_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	loader := NewDocumentLoader(nil, nil)
	_, err := loader.LoadDocument(context.Background(), srv.URL+"/missing.pdf")

	var unreadable *DocumentUnreadableError
	require.ErrorAs(t, err, &unreadable)
	assert.Contains(t, unreadable.URL, "/missing.pdf")
}

func TestLoadDocument_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	cfg := DefaultDocumentLoaderConfig()
	cfg.MaxDocumentBytes = 1024
	loader := NewDocumentLoader(cfg, nil)

	_, err := loader.LoadDocument(context.Background(), srv.URL)
	var unreadable *DocumentUnreadableError
	require.ErrorAs(t, err, &unreadable)
	assert.Contains(t, err.Error(), "size limit")
}

func TestLoadDocument_UnsupportedScheme(t *testing.T) {
	loader := NewDocumentLoader(nil, nil)

	_, err := loader.LoadDocument(context.Background(), "ftp://example.com/policy.pdf")
	var unreadable *DocumentUnreadableError
	require.ErrorAs(t, err, &unreadable)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestLoadDocument_BrokenPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 truncated garbage"))
	}))
	defer srv.Close()

	loader := NewDocumentLoader(nil, nil)
	_, err := loader.LoadDocument(context.Background(), srv.URL)

	var unreadable *DocumentUnreadableError
	require.ErrorAs(t, err, &unreadable)
}

func TestLoadDocuments_AbortsOnFirstFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fine"))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer bad.Close()

	loader := NewDocumentLoader(nil, nil)
	docs, err := loader.LoadDocuments(context.Background(), []string{good.URL, bad.URL})

	require.Error(t, err)
	assert.Nil(t, docs)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF([]byte("%PDF-1.4"), "", "https://x/doc"))
	assert.True(t, isPDF([]byte("x"), "application/pdf; charset=binary", "https://x/doc"))
	assert.True(t, isPDF([]byte("x"), "", "https://x/policy.PDF?sig=abc"))
	assert.False(t, isPDF([]byte("plain"), "text/plain", "https://x/policy.txt"))
}

func TestCleanTextContent(t *testing.T) {
	assert.Equal(t, "a b c ", cleanTextContent("  a\t b\n\nc  "))
	assert.Equal(t, "", cleanTextContent("   \n\t "))
}
