package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/csmith1188/FormBank/internal/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHandler() *Handler {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Handler{log: log}
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: amount must be positive", common.ErrValidation), 400},
		{fmt.Errorf("%w: check 9 not found", common.ErrNotFound), 404},
		{fmt.Errorf("%w: you already have an active loan", common.ErrStateConflict), 409},
		{fmt.Errorf("%w: account is locked", common.ErrGatewayLockout), 423},
		{fmt.Errorf("%w: verify the transfer manually", common.ErrGatewayTimeout), 504},
		{fmt.Errorf("%w: transfer declined", common.ErrGatewayFailure), 502},
		{fmt.Errorf("%w: connection reset", common.ErrStorage), 500},
		{fmt.Errorf("something unexpected"), 500},
	}
	h := testHandler()
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.writeError(rec, tt.err)
		assert.Equalf(t, tt.status, rec.Code, "error: %v", tt.err)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestWriteError_LockoutBody(t *testing.T) {
	rec := httptest.NewRecorder()
	testHandler().writeError(rec, fmt.Errorf("%w: too many failed attempts", common.ErrGatewayLockout))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["locked"])
	assert.Contains(t, body["error"], "too many failed attempts")
	assert.NotEmpty(t, body["suggestion"])
}

func TestWriteError_InternalErrorsAreOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	testHandler().writeError(rec, fmt.Errorf("%w: pq: connection refused", common.ErrStorage))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["error"])
}
