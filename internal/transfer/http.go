package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"settlement-engine/internal/util"
)

// HTTPCustodian submits batches to an external custody service, which applies
// each batch atomically. Retries reuse the batch idempotency key.
type HTTPCustodian struct {
	baseURL string
	client  *retryablehttp.Client
	logger  *zap.Logger
}

// NewHTTPCustodian creates a client for the custody service at baseURL
func NewHTTPCustodian(baseURL string, timeout time.Duration, retries int) *HTTPCustodian {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.HTTPClient.Timeout = timeout
	client.Logger = &retryLogger{logger: util.GetLogger()}

	return &HTTPCustodian{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  util.GetLogger(),
	}
}

// Begin opens a batch that is sent on Commit
func (c *HTTPCustodian) Begin(ctx context.Context) (Batch, error) {
	return &httpBatch{custodian: c, key: IdempotencyKey(ctx)}, nil
}

type batchRequest struct {
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	Instructions   []Instruction `json:"instructions"`
}

type batchFailure struct {
	Error string `json:"error"`
	Index int    `json:"index"`
}

var failureCodes = map[string]error{
	"not_owner":            ErrNotOwner,
	"not_approved":         ErrNotApproved,
	"insufficient_balance": ErrInsufficientBalance,
	"unsupported_item":     ErrUnsupportedItem,
}

type httpBatch struct {
	custodian *HTTPCustodian
	key       string
	ops       []Instruction
	closed    bool
}

func (b *httpBatch) Transfer(_ context.Context, item Item, from, to common.Address) error {
	if b.closed {
		return ErrBatchClosed
	}
	b.ops = append(b.ops, Instruction{Item: item, From: from, To: to})
	return nil
}

func (b *httpBatch) Commit(ctx context.Context) error {
	if b.closed {
		return ErrBatchClosed
	}
	b.closed = true

	body, err := json.Marshal(batchRequest{IdempotencyKey: b.key, Instructions: b.ops})
	if err != nil {
		return fmt.Errorf("failed to marshal transfer batch: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, b.custodian.baseURL+"/v1/transfer-batches", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.key != "" {
		req.Header.Set("Idempotency-Key", b.key)
	}

	resp, err := b.custodian.client.Do(req)
	if err != nil {
		return fmt.Errorf("custody request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var failure batchFailure
	if err := json.Unmarshal(raw, &failure); err == nil {
		if cause, ok := failureCodes[failure.Error]; ok && failure.Index >= 0 && failure.Index < len(b.ops) {
			return &Error{Instruction: b.ops[failure.Index], Err: cause}
		}
	}

	b.custodian.logger.Error("Custody service rejected batch",
		zap.String("idempotency_key", b.key),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", raw))
	return fmt.Errorf("custody service returned status %d", resp.StatusCode)
}

func (b *httpBatch) Rollback(_ context.Context) error {
	b.closed = true
	b.ops = nil
	return nil
}

// retryLogger adapts zap to retryablehttp.LeveledLogger
type retryLogger struct {
	logger *zap.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Warnw(msg, keysAndValues...)
}
