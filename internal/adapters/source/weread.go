package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"readsync/internal/adapters/util"
	"readsync/internal/core/domain/models"
	"readsync/internal/core/domain/ports"
	"time"

	"go.uber.org/zap"
)

var _ ports.BookSource = (*WeReadAdapter)(nil)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// maxShelfBytes caps the shelf response; a large library is a few MB at most.
const maxShelfBytes = 32 << 20

type WeReadAdapter struct {
	shelfURL string
	cookie   string
	client   *http.Client
	logger   *zap.Logger
}

func NewWeReadAdapter(shelfURL, cookie string, timeout time.Duration, logger *zap.Logger) *WeReadAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeReadAdapter{
		shelfURL: shelfURL,
		cookie:   cookie,
		client: &http.Client{
			Transport: &util.LoggingTransport{Logger: logger},
			Timeout:   timeout,
		},
		logger: logger,
	}
}

type shelfResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	Books   []struct {
		Book models.SourceRecord `json:"book"`
	} `json:"books"`
}

// FetchBooks performs a single shelf read. Retrying is left to the caller.
func (a *WeReadAdapter) FetchBooks(ctx context.Context) ([]models.SourceRecord, error) {
	if a.shelfURL == "" {
		return nil, fmt.Errorf("shelf URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.shelfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setBrowserHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shelf from %s: %w", a.shelfURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shelf endpoint returned status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxShelfBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read shelf response: %w", err)
	}

	var shelf shelfResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&shelf); err != nil {
		return nil, fmt.Errorf("failed to decode shelf response: %w", err)
	}

	// An expired session comes back as 200 with a non-zero errcode.
	if shelf.ErrCode != 0 {
		return nil, fmt.Errorf("shelf endpoint rejected session (errcode %d): %s", shelf.ErrCode, shelf.ErrMsg)
	}

	books := make([]models.SourceRecord, 0, len(shelf.Books))
	for i, entry := range shelf.Books {
		if entry.Book == nil {
			a.logger.Info("skipping shelf entry without book object", zap.Int("index", i))
			continue
		}
		books = append(books, entry.Book)
	}

	a.logger.Debug("shelf fetched", zap.Int("books", len(books)))
	return books, nil
}

func (a *WeReadAdapter) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Cookie", a.cookie)

	if u, err := url.Parse(a.shelfURL); err == nil && u.Host != "" {
		origin := u.Scheme + "://" + u.Host
		req.Header.Set("Origin", origin)
		req.Header.Set("Referer", origin+"/")
	}
}
