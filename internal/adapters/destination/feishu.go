package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"readsync/internal/adapters/util"
	"readsync/internal/core/domain/models"
	"readsync/internal/core/domain/ports"
	"time"

	"go.uber.org/zap"
)

// Ensure the Feishu adapters implement their ports
var (
	_ ports.TokenProvider     = (*FeishuAuthAdapter)(nil)
	_ ports.RecordDestination = (*BitableAdapter)(nil)
)

// apiResponse is the envelope every Feishu open API reply shares.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// FeishuAuthAdapter issues tenant access tokens from a self-built app's
// credentials.
type FeishuAuthAdapter struct {
	tokenURL  string
	appID     string
	appSecret string
	client    *http.Client
}

func NewFeishuAuthAdapter(tokenURL, appID, appSecret string, timeout time.Duration, logger *zap.Logger) *FeishuAuthAdapter {
	return &FeishuAuthAdapter{
		tokenURL:  tokenURL,
		appID:     appID,
		appSecret: appSecret,
		client: &http.Client{
			Transport: &util.LoggingTransport{Logger: logger, SensitiveBodies: true},
			Timeout:   timeout,
		},
	}
}

type tokenResponse struct {
	apiResponse
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// FetchToken performs exactly one token request; it never retries.
func (a *FeishuAuthAdapter) FetchToken(ctx context.Context) (models.Token, error) {
	payload, err := json.Marshal(map[string]string{
		"app_id":     a.appID,
		"app_secret": a.appSecret,
	})
	if err != nil {
		return models.Token{}, fmt.Errorf("%w: failed to marshal credentials: %v", models.ErrAuthentication, err)
	}

	var out tokenResponse
	status, err := postJSON(ctx, a.client, a.tokenURL, "", payload, &out)
	if err != nil {
		return models.Token{}, fmt.Errorf("%w: %v", models.ErrAuthentication, err)
	}
	if status != http.StatusOK {
		return models.Token{}, fmt.Errorf("%w: token endpoint returned HTTP %d", models.ErrAuthentication, status)
	}
	if out.Code != 0 {
		return models.Token{}, fmt.Errorf("%w: token endpoint returned code %d: %s", models.ErrAuthentication, out.Code, out.Msg)
	}
	if out.TenantAccessToken == "" {
		return models.Token{}, fmt.Errorf("%w: token endpoint returned an empty token", models.ErrAuthentication)
	}

	return models.Token{
		Value:     out.TenantAccessToken,
		ExpiresIn: time.Duration(out.Expire) * time.Second,
	}, nil
}

// BitableAdapter writes rows into one Bitable table.
type BitableAdapter struct {
	recordsURL string
	client     *http.Client
}

// NewBitableAdapter takes the table's records collection URL,
// {base}/bitable/v1/apps/{app_token}/tables/{table_id}/records.
func NewBitableAdapter(recordsURL string, timeout time.Duration, logger *zap.Logger) *BitableAdapter {
	return &BitableAdapter{
		recordsURL: recordsURL,
		client: &http.Client{
			Transport: &util.LoggingTransport{Logger: logger},
			Timeout:   timeout,
		},
	}
}

type batchRecord struct {
	Fields models.DestinationRecord `json:"fields"`
}

type batchCreateRequest struct {
	Records []batchRecord `json:"records"`
}

// BatchCreate inserts records in one call. The endpoint reports a single
// outcome for the whole batch.
func (a *BitableAdapter) BatchCreate(ctx context.Context, token models.Token, records []models.DestinationRecord) error {
	body := batchCreateRequest{Records: make([]batchRecord, 0, len(records))}
	for _, r := range records {
		body.Records = append(body.Records, batchRecord{Fields: r})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal records: %v", models.ErrWriteBatch, err)
	}

	var out apiResponse
	status, err := postJSON(ctx, a.client, a.recordsURL+"/batch_create", token.Value, payload, &out)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteBatch, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: batch_create returned HTTP %d: %s", models.ErrWriteBatch, status, out.Msg)
	}
	if out.Code != 0 {
		return fmt.Errorf("%w: batch_create returned code %d: %s", models.ErrWriteBatch, out.Code, out.Msg)
	}
	return nil
}

// postJSON sends payload and decodes the reply into out. A body that is not
// JSON is only an error when the status is 200.
func postJSON(ctx context.Context, client *http.Client, url, bearer string, payload []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(respBody, out); err != nil && resp.StatusCode == http.StatusOK {
		return resp.StatusCode, fmt.Errorf("malformed JSON response: %w", err)
	}
	return resp.StatusCode, nil
}
