package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCustodian_CommitSendsBatch(t *testing.T) {
	var got batchRequest
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfer-batches", r.URL.Path)
		key = r.Header.Get("Idempotency-Key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewHTTPCustodian(srv.URL+"/", time.Second, 0)
	ctx := WithIdempotencyKey(context.Background(), "sale-0xcafe")

	batch, err := c.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Transfer(ctx, nft(7), seller, buyer))
	require.NoError(t, batch.Transfer(ctx, native(100), buyer, seller))
	require.NoError(t, batch.Commit(ctx))

	assert.Equal(t, "sale-0xcafe", key)
	assert.Equal(t, "sale-0xcafe", got.IdempotencyKey)
	require.Len(t, got.Instructions, 2)
	assert.Equal(t, seller, got.Instructions[0].From)
	assert.Equal(t, int64(7), got.Instructions[0].Item.Identifier.Int64())
	assert.Equal(t, int64(100), got.Instructions[1].Item.Amount.Int64())

	assert.ErrorIs(t, batch.Commit(ctx), ErrBatchClosed)
}

func TestHTTPCustodian_MapsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(batchFailure{Error: "not_approved", Index: 1})
	}))
	defer srv.Close()

	ctx := context.Background()
	batch, err := NewHTTPCustodian(srv.URL, time.Second, 0).Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Transfer(ctx, native(1), buyer, seller))
	require.NoError(t, batch.Transfer(ctx, nft(7), seller, buyer))

	err = batch.Commit(ctx)
	assert.ErrorIs(t, err, ErrNotApproved)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, nft(7).Token, terr.Instruction.Item.Token)
}

func TestHTTPCustodian_UnknownFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mystery","index":0}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	batch, _ := NewHTTPCustodian(srv.URL, time.Second, 0).Begin(ctx)
	require.NoError(t, batch.Transfer(ctx, native(1), buyer, seller))

	err := batch.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")

	var terr *Error
	assert.False(t, errors.As(err, &terr))
}

func TestHTTPCustodian_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPCustodian(srv.URL, time.Second, 2)
	c.client.RetryWaitMin = time.Millisecond
	c.client.RetryWaitMax = time.Millisecond

	ctx := context.Background()
	batch, _ := c.Begin(ctx)
	require.NoError(t, batch.Transfer(ctx, native(1), buyer, seller))
	require.NoError(t, batch.Commit(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPCustodian_RollbackSendsNothing(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	ctx := context.Background()
	batch, _ := NewHTTPCustodian(srv.URL, time.Second, 0).Begin(ctx)
	require.NoError(t, batch.Transfer(ctx, native(1), buyer, seller))
	require.NoError(t, batch.Rollback(ctx))

	assert.ErrorIs(t, batch.Commit(ctx), ErrBatchClosed)
	assert.Zero(t, atomic.LoadInt32(&calls))
}
