package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/types"
)

func renderError(t *testing.T, requestID string, err error) (int, types.APIError) {
	t.Helper()
	rec := httptest.NewRecorder()
	if requestID != "" {
		rec.Header().Set(requestIDHeader, requestID)
	}
	WriteError(context.Background(), nil, rec, err)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env.Error
}

func TestWriteSuccessStatusWrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccessStatus(rec, http.StatusCreated, map[string]int64{"balance": 40})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"data":{"balance":40}}`, rec.Body.String())
}

func TestWriteSuccessDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, []string{"a"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["a"]}`, rec.Body.String())
}

func TestUnencodablePayloadBecomesInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]any{"ch": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, string(pkgerrors.CodeInternal), env.Error.Code)
}

func TestPublicCodesEchoMessageAndDetails(t *testing.T) {
	err := pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").
		WithDetails(map[string]string{"field": "amount"})

	status, body := renderError(t, "", err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.Equal(t, "amount must be positive", body.Message)
	assert.Equal(t, map[string]any{"field": "amount"}, body.Details)
}

func TestDomainFailuresKeepTheirReason(t *testing.T) {
	for _, code := range []pkgerrors.Code{
		pkgerrors.CodeInsufficientFunds,
		pkgerrors.CodeBidTooLow,
		pkgerrors.CodeBidSuperseded,
		pkgerrors.CodeSelfBid,
		pkgerrors.CodeAuctionClosed,
	} {
		t.Run(string(code), func(t *testing.T) {
			status, body := renderError(t, "", pkgerrors.New(code, "specific reason"))
			assert.Equal(t, pkgerrors.MetadataFor(code).HTTPStatus, status)
			assert.Equal(t, string(code), body.Code)
			assert.Equal(t, "specific reason", body.Message)
		})
	}
}

func TestPrivateCodesDropDetails(t *testing.T) {
	err := pkgerrors.New(pkgerrors.CodeSelfBid, "seller bid").WithDetails("listing 7")
	_, body := renderError(t, "", err)
	assert.Nil(t, body.Details)
}

func TestOpaqueCodesUsePublicMessage(t *testing.T) {
	cases := map[string]error{
		"untyped":          errors.New("boom"),
		"nil":              nil,
		"storage conflict": pkgerrors.New(pkgerrors.CodeStorageConflict, "could not serialize access on ledger_entries"),
		"dependency":       pkgerrors.New(pkgerrors.CodeDependency, "dial tcp 10.0.0.3:6379: refused"),
	}
	for name, err := range cases {
		t.Run(name, func(t *testing.T) {
			status, body := renderError(t, "", err)
			code := pkgerrors.CodeInternal
			if typed := pkgerrors.As(err); typed != nil {
				code = typed.Code()
			}
			meta := pkgerrors.MetadataFor(code)
			assert.Equal(t, meta.HTTPStatus, status)
			assert.Equal(t, meta.PublicMessage, body.Message)
			assert.Nil(t, body.Details)
		})
	}
}

func TestRetryableFlagAndRequestID(t *testing.T) {
	_, body := renderError(t, "req-42", pkgerrors.New(pkgerrors.CodeBidSuperseded, "leader changed"))
	assert.True(t, body.Retryable)
	assert.Equal(t, "req-42", body.RequestID)

	_, body = renderError(t, "", pkgerrors.New(pkgerrors.CodeBidTooLow, "too low"))
	assert.False(t, body.Retryable)
	assert.Empty(t, body.RequestID)
}
