package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/extract"
	"github.com/hyperifyio/deepresearch/internal/llm"
	"github.com/hyperifyio/deepresearch/internal/message"
	"github.com/hyperifyio/deepresearch/internal/schedule"
)

// Fetcher retrieves a URL and returns distilled text. The result is always
// a string in one of three shapes: "# <title>\n<body>" for HTML,
// "# PDF Content\n<text>" for PDF, or a fallback string beginning with
// "Error:" or "Failed to fetch". Callers treat the fallback shapes as a
// skipped source, never as a fatal condition.
type Fetcher struct {
	HTTPClient *http.Client
	Scheduler  *schedule.Scheduler

	// Remote reader strategy: one GET to ReaderBaseURL+url with bearer
	// auth, body returned verbatim. When enabled it bypasses the page and
	// PDF strategies entirely.
	UseReader     bool
	ReaderBaseURL string
	ReaderAPIKey  string

	// Page strategy. BrowseLite extracts innerText only; the full mode
	// cleans the HTML, truncates to MaxHTMLLength, and converts it to
	// markdown through Reader using ReaderModel.
	BrowseLite    bool
	MaxHTMLLength int
	MaxEvalTime   time.Duration
	Reader        llm.Provider
	ReaderModel   string

	// PDF strategy bounds. Extraction runs under the scheduler's PDF gate.
	PDFMaxPages    int
	PDFMaxFilesize int64
	PDFTimeout     time.Duration

	// NavTimeout bounds page navigation. Zero means 30 seconds.
	NavTimeout time.Duration
}

const pdfTimeoutMessage = "Parser unable to parse the resource within defined time."

// IsPDFURL reports whether a URL points at a PDF, by path suffix or by the
// MIME type its extension implies.
func IsPDFURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return true
	}
	mt := mime.TypeByExtension(strings.ToLower(path.Ext(u.Path)))
	return mt == "application/pdf"
}

func (f *Fetcher) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.NavTimeout > 0 {
		return f.NavTimeout
	}
	return 30 * time.Second
}

// Fetch retrieves url and returns its distilled text. The scheduler's
// global, per-domain, and cooldown disciplines apply to the page and PDF
// strategies; the remote reader is a single pass-through GET.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) string {
	if f.UseReader {
		return f.fetchViaReader(ctx, rawURL)
	}

	release, err := f.Scheduler.Acquire(ctx, rawURL)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("fetch slot acquisition cancelled")
		return fmt.Sprintf("Error: fetch cancelled for %s", rawURL)
	}
	defer release()

	if IsPDFURL(rawURL) {
		if f.BrowseLite {
			return "PDF parsing is disabled in lite browsing mode."
		}
		return f.fetchPDF(ctx, rawURL)
	}
	return f.fetchPage(ctx, rawURL)
}

func (f *Fetcher) fetchViaReader(ctx context.Context, rawURL string) string {
	full := f.ReaderBaseURL + rawURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Sprintf("Error: Exception while fetching with reader for %s: %v", rawURL, err)
	}
	if f.ReaderAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.ReaderAPIKey)
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("reader fetch failed")
		return fmt.Sprintf("Error: Exception while fetching with reader for %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("url", rawURL).Msg("reader returned non-200")
		return fmt.Sprintf("Error: reader fetch failed for %s with status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error: Exception while fetching with reader for %s: %v", rawURL, err)
	}
	return string(body)
}

func (f *Fetcher) fetchPage(ctx context.Context, rawURL string) string {
	navCtx, cancel := context.WithTimeout(ctx, f.navTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(navCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Sprintf("Failed to fetch %s", rawURL)
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("page fetch failed")
		return fmt.Sprintf("Failed to fetch %s", rawURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Int("status", resp.StatusCode).Str("url", rawURL).Msg("page fetch non-2xx")
		return fmt.Sprintf("Failed to fetch %s", rawURL)
	}

	// A server may only reveal the PDF via Content-Type.
	if ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); ct == "application/pdf" {
		if f.BrowseLite {
			return "PDF parsing is disabled in lite browsing mode."
		}
		body, err := f.readBounded(resp.Body)
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return f.extractPDF(ctx, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Failed to fetch %s", rawURL)
	}

	title := extract.Title(body)
	if f.BrowseLite {
		return fmt.Sprintf("# %s\n%s", title, extract.InnerText(body))
	}
	return fmt.Sprintf("# %s\n%s", title, f.markdownify(ctx, body))
}

// markdownify runs the full HTML strategy: clean, truncate, and convert to
// markdown through the dedicated reader model. Cleaning is bounded by
// MaxEvalTime; conversion failures degrade to an empty body.
func (f *Fetcher) markdownify(ctx context.Context, body []byte) string {
	cleaned := f.cleanHTMLBounded(ctx, body)
	if len(cleaned) > f.MaxHTMLLength && f.MaxHTMLLength > 0 {
		cleaned = cleaned[:f.MaxHTMLLength]
	}
	if f.Reader == nil || strings.TrimSpace(cleaned) == "" {
		return cleaned
	}
	// Headroom over the input length so conversion is not cut short.
	maxTokens := int(1.25 * float64(f.MaxHTMLLength))
	if maxTokens <= 0 {
		maxTokens = int(1.25 * float64(len(cleaned)))
	}
	md, err := f.Reader.Generate(ctx, message.List{{Role: message.RoleUser, Content: cleaned}}, llm.Options{
		Model:     f.ReaderModel,
		MaxTokens: maxTokens,
	})
	if err != nil {
		log.Warn().Err(err).Msg("markdown conversion failed")
		return ""
	}
	return md
}

func (f *Fetcher) cleanHTMLBounded(ctx context.Context, body []byte) string {
	evalTimeout := f.MaxEvalTime
	if evalTimeout <= 0 {
		evalTimeout = 30 * time.Second
	}
	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	done := make(chan string, 1)
	go func() { done <- extract.CleanHTML(body) }()
	select {
	case out := <-done:
		return out
	case <-evalCtx.Done():
		return "Parser unable to extract HTML within defined time."
	}
}

func (f *Fetcher) readBounded(r io.Reader) ([]byte, error) {
	limit := f.PDFMaxFilesize
	if limit <= 0 {
		limit = 10 * 1024 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read pdf body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("pdf exceeds maximum file size of %d bytes", limit)
	}
	return body, nil
}

func (f *Fetcher) fetchPDF(ctx context.Context, rawURL string) string {
	dlCtx, cancel := context.WithTimeout(ctx, f.navTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "Failed to download or process PDF"
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("pdf download failed")
		return "Failed to download or process PDF"
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "Failed to download or process PDF"
	}
	body, err := f.readBounded(resp.Body)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("pdf rejected")
		return fmt.Sprintf("Error: %v", err)
	}
	return f.extractPDF(ctx, body)
}

// extractPDF turns raw PDF bytes into text under the process-wide PDF gate,
// bounded by PDFTimeout and PDFMaxPages. The gate is released before the
// caller's fetch slot.
func (f *Fetcher) extractPDF(ctx context.Context, body []byte) string {
	releasePDF, err := f.Scheduler.AcquirePDF(ctx)
	if err != nil {
		return fmt.Sprintf("Error: pdf extraction cancelled: %v", err)
	}
	defer releasePDF()

	timeout := f.PDFTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	extractCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := extractPDFText(body, f.PDFMaxPages)
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			log.Warn().Err(res.err).Msg("pdf text extraction failed")
			return fmt.Sprintf("# PDF Content\nError: %v", res.err)
		}
		return fmt.Sprintf("# PDF Content\n%s", res.text)
	case <-extractCtx.Done():
		return fmt.Sprintf("# PDF Content\n%s", pdfTimeoutMessage)
	}
}
