package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
)

// DocumentLoaderConfig holds configuration for the document loader.
type DocumentLoaderConfig struct {
	// HTTPTimeout bounds a single document download.
	HTTPTimeout time.Duration `json:"http_timeout"`
	// MaxDocumentBytes caps the size of a fetched document.
	MaxDocumentBytes int64 `json:"max_document_bytes"`
	// UserAgent is sent on outbound HTTP fetches.
	UserAgent string `json:"user_agent"`
}

// DefaultDocumentLoaderConfig returns the loader defaults.
func DefaultDocumentLoaderConfig() *DocumentLoaderConfig {
	return &DocumentLoaderConfig{
		HTTPTimeout:      60 * time.Second,
		MaxDocumentBytes: 50 << 20, // 50 MiB
		UserAgent:        "policy-qa/1.0",
	}
}

// DocumentLoader fetches policy documents over HTTP(S) or from S3 and
// extracts clean, page-annotated plain text. PDF pages map one-to-one onto
// PageText entries; plain text documents become a single page.
type DocumentLoader struct {
	config     *DocumentLoaderConfig
	httpClient *http.Client
	metrics    *Metrics
	logger     *slog.Logger

	s3Once   sync.Once
	s3Client *s3.Client
	s3Err    error
}

// NewDocumentLoader creates a document loader. metrics may be nil.
func NewDocumentLoader(config *DocumentLoaderConfig, metrics *Metrics) *DocumentLoader {
	if config == nil {
		config = DefaultDocumentLoaderConfig()
	}

	return &DocumentLoader{
		config: config,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
		},
		metrics: metrics,
		logger:  slog.Default().With("component", "document-loader"),
	}
}

// LoadDocuments fetches and extracts every URL in order. A failure on any
// document aborts the whole set: a batch answered against half its sources
// would cite evidence the caller never supplied.
func (dl *DocumentLoader) LoadDocuments(ctx context.Context, urls []string) ([]*LoadedDocument, error) {
	docs := make([]*LoadedDocument, 0, len(urls))
	for _, u := range urls {
		doc, err := dl.LoadDocument(ctx, u)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// LoadDocument fetches one document and extracts its text. Failures surface
// as DocumentUnreadableError; nothing here retries.
func (dl *DocumentLoader) LoadDocument(ctx context.Context, rawURL string) (*LoadedDocument, error) {
	start := time.Now()

	data, contentType, err := dl.fetch(ctx, rawURL)
	if err != nil {
		if dl.metrics != nil {
			dl.metrics.DocumentLoadErrors.Inc()
		}
		return nil, &DocumentUnreadableError{URL: rawURL, Err: err}
	}

	var pages []PageText
	if isPDF(data, contentType, rawURL) {
		pages, err = extractPDFPages(data)
	} else {
		pages = []PageText{{Number: 1, Text: cleanTextContent(string(data))}}
	}
	if err != nil {
		if dl.metrics != nil {
			dl.metrics.DocumentLoadErrors.Inc()
		}
		return nil, &DocumentUnreadableError{URL: rawURL, Err: err}
	}

	doc := &LoadedDocument{
		ID:        uuid.NewString(),
		SourceURL: rawURL,
		Pages:     pages,
		LoadedAt:  time.Now().UTC(),
	}

	if dl.metrics != nil {
		dl.metrics.DocumentsLoaded.Inc()
	}
	dl.logger.Info("Loaded document",
		slog.String("document_id", doc.ID),
		slog.Int("pages", len(pages)),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", time.Since(start)))

	return doc, nil
}

func (dl *DocumentLoader) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid document URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		return dl.fetchHTTP(ctx, rawURL)
	case "s3":
		return dl.fetchS3(ctx, parsed)
	default:
		return nil, "", fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}
}

func (dl *DocumentLoader) fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", dl.config.UserAgent)

	resp, err := dl.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("document download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, dl.config.MaxDocumentBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read document body: %w", err)
	}
	if int64(len(data)) > dl.config.MaxDocumentBytes {
		return nil, "", fmt.Errorf("document exceeds size limit of %d bytes", dl.config.MaxDocumentBytes)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

func (dl *DocumentLoader) fetchS3(ctx context.Context, parsed *url.URL) ([]byte, string, error) {
	dl.s3Once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			dl.s3Err = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		dl.s3Client = s3.NewFromConfig(cfg)
	})
	if dl.s3Err != nil {
		return nil, "", dl.s3Err
	}

	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")

	out, err := dl.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, dl.config.MaxDocumentBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read s3 object body: %w", err)
	}
	if int64(len(data)) > dl.config.MaxDocumentBytes {
		return nil, "", fmt.Errorf("document exceeds size limit of %d bytes", dl.config.MaxDocumentBytes)
	}

	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return data, contentType, nil
}

// isPDF checks the magic bytes first, then the declared type and extension.
func isPDF(data []byte, contentType, rawURL string) bool {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return true
	}
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		return strings.HasSuffix(strings.ToLower(parsed.Path), ".pdf")
	}
	return false
}

// extractPDFPages extracts cleaned text per page. Pages whose text cannot be
// extracted are kept empty rather than dropped so page numbering stays
// aligned with the source document.
func extractPDFPages(data []byte) ([]PageText, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	pageCount := reader.NumPage()
	pages := make([]PageText, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, PageText{Number: i, Text: ""})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Default().Warn("Failed to extract text from PDF page",
				slog.Int("page", i), slog.String("error", err.Error()))
			text = ""
		}
		pages = append(pages, PageText{Number: i, Text: cleanTextContent(text)})
	}

	return pages, nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// cleanTextContent collapses whitespace runs so chunk windows measure real
// content. A trailing space keeps words from fusing across page joins.
func cleanTextContent(text string) string {
	cleaned := whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	if cleaned == "" {
		return ""
	}
	return cleaned + " "
}
