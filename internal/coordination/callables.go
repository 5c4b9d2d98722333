package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"golang.org/x/oauth2"

	"github.com/zkceremony/contributor/internal/ceremony"
)

// CallableClient invokes the server-side callables as HTTPS callable-
// function requests, the same request/response envelope Firebase Cloud
// Functions use: POST {"data": ...} -> {"result": ...} | {"error": ...}.
//
// Every call is retried with jittered exponential backoff on a transient
// failure: a transport error, an unreadable response body, or a 5xx
// response. A 4xx callable error response is never retried since the
// callables are idempotent but their *failure* may be a durable
// precondition (e.g. "not your turn").
type CallableClient struct {
	BaseURL    string
	HTTPClient *http.Client
	TokenSource oauth2.TokenSource
	Backoff    func() backoff.BackOff
}

// NewCallableClient returns a CallableClient with sane defaults: a 30s HTTP
// timeout and an exponential backoff capped at 5 retries / 10s elapsed.
func NewCallableClient(baseURL string, ts oauth2.TokenSource) *CallableClient {
	return &CallableClient{
		BaseURL:     baseURL,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		TokenSource: ts,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
	}
}

func (c *CallableClient) call(ctx context.Context, name string, req, resp any) error {
	body, err := json.Marshal(struct {
		Data any `json:"data"`
	}{Data: req})
	if err != nil {
		return trace.Wrap(err, "encoding %s request", name)
	}

	// One idempotency key per logical call, reused across every backoff
	// retry, so a request that actually lands server-side after the client
	// gave up on a timed-out response is not applied twice.
	idempotencyKey := uuid.NewString()

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+name, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(trace.Wrap(err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Idempotency-Key", idempotencyKey)
		if c.TokenSource != nil {
			tok, err := c.TokenSource.Token()
			if err != nil {
				return backoff.Permanent(trace.Wrap(err, "obtaining identity token"))
			}
			tok.SetAuthHeader(httpReq)
		}

		httpResp, err := c.HTTPClient.Do(httpReq)
		if err != nil {
			return trace.Wrap(err, "calling %s", name) // transient: retry
		}
		defer httpResp.Body.Close()

		raw, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return trace.Wrap(err, "reading %s response", name)
		}

		if httpResp.StatusCode >= 500 {
			return trace.Errorf("callable %s: server error %d: %s", name, httpResp.StatusCode, raw) // transient
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(trace.Errorf("callable %s: %d: %s", name, httpResp.StatusCode, raw))
		}

		if resp == nil {
			return nil
		}
		var envelope struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return backoff.Permanent(trace.Wrap(err, "decoding %s result envelope", name))
		}
		if err := json.Unmarshal(envelope.Result, resp); err != nil {
			return backoff.Permanent(trace.Wrap(err, "decoding %s result", name))
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(c.Backoff(), ctx))
}

func (c *CallableClient) CheckParticipantForCeremony(ctx context.Context, ceremonyID string) (bool, error) {
	var out struct {
		Ok bool `json:"ok"`
	}
	if err := c.call(ctx, "checkParticipantForCeremony", map[string]string{"ceremonyId": ceremonyID}, &out); err != nil {
		return false, err
	}
	return out.Ok, nil
}

func (c *CallableClient) ProgressToNextCircuitForContribution(ctx context.Context, ceremonyID string) error {
	return c.call(ctx, "progressToNextCircuitForContribution", map[string]string{"ceremonyId": ceremonyID}, nil)
}

func (c *CallableClient) ProgressToNextContributionStep(ctx context.Context, ceremonyID string) error {
	return c.call(ctx, "progressToNextContributionStep", map[string]string{"ceremonyId": ceremonyID}, nil)
}

func (c *CallableClient) PermanentlyStoreCurrentContributionTimeAndHash(ctx context.Context, ceremonyID string, timeMs int64, hash string) error {
	return c.call(ctx, "permanentlyStoreCurrentContributionTimeAndHash", map[string]any{
		"ceremonyId": ceremonyID,
		"timeMs":     timeMs,
		"hash":       hash,
	}, nil)
}

func (c *CallableClient) VerifyContribution(ctx context.Context, ceremonyID, circuitID, bucket, contributorID, verifyURL string) error {
	return c.call(ctx, "verifyContribution", map[string]string{
		"ceremonyId":    ceremonyID,
		"circuitId":     circuitID,
		"bucket":        bucket,
		"contributorId": contributorID,
		"verifyUrl":     verifyURL,
	}, nil)
}

func (c *CallableClient) ResumeContributionAfterTimeoutExpiration(ctx context.Context, ceremonyID string) error {
	return c.call(ctx, "resumeContributionAfterTimeoutExpiration", map[string]string{"ceremonyId": ceremonyID}, nil)
}

func (c *CallableClient) RecordUploadedPart(ctx context.Context, ceremonyID string, part ceremony.UploadedPart) error {
	return c.call(ctx, "recordUploadedPart", map[string]any{
		"ceremonyId": ceremonyID,
		"partNumber": part.PartNumber,
		"etag":       part.ETag,
	}, nil)
}

// FirestoreAdapter composes FirestoreDocs and CallableClient into a full
// Adapter.
type FirestoreAdapter struct {
	*FirestoreDocs
	*CallableClient
}

var _ Adapter = (*FirestoreAdapter)(nil)

func NewFirestoreAdapter(docs *FirestoreDocs, callables *CallableClient) *FirestoreAdapter {
	return &FirestoreAdapter{FirestoreDocs: docs, CallableClient: callables}
}
