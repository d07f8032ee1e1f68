package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/vcode/internal/retrieval"
)

func TestHealthHandler_Check(t *testing.T) {
	t.Run("ok when login works", func(t *testing.T) {
		handler := NewHealthHandler(&fakeRetriever{}, zerolog.Nop())
		rr := httptest.NewRecorder()
		handler.Check(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp healthResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "ok", resp.Status)
	})

	t.Run("bad gateway when login fails", func(t *testing.T) {
		connErr := &retrieval.ConnectionError{Host: "imap.example.com", Op: "connect", Err: errors.New("auth failed")}
		handler := NewHealthHandler(&fakeRetriever{connErr: connErr}, zerolog.Nop())
		rr := httptest.NewRecorder()
		handler.Check(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		require.Equal(t, http.StatusBadGateway, rr.Code)
		var resp healthResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "error", resp.Status)
		assert.Contains(t, resp.Error, "imap.example.com")
	})

	t.Run("rejects POST", func(t *testing.T) {
		handler := NewHealthHandler(&fakeRetriever{}, zerolog.Nop())
		rr := httptest.NewRecorder()
		handler.Check(rr, httptest.NewRequest(http.MethodPost, "/api/v1/health", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}
