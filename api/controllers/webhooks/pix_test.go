package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pixwebhook "github.com/ggmarket/ggmarket-backend/internal/webhooks/pix"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

type fakeWebhookService struct {
	result  pixwebhook.IngestResult
	err     error
	lastRaw json.RawMessage
}

func (f *fakeWebhookService) Ingest(_ context.Context, raw json.RawMessage) (pixwebhook.IngestResult, error) {
	f.lastRaw = raw
	return f.result, f.err
}

func (f *fakeWebhookService) Process(context.Context, uuid.UUID) error { return nil }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestPixWebhookAcceptsNotification(t *testing.T) {
	eventID := uuid.New()
	svc := &fakeWebhookService{result: pixwebhook.IngestResult{EventID: eventID, Enqueued: true}}
	handler := PixWebhook(svc, testLogger())

	body := `{"pix":[{"endToEndId":"E123","txid":"tx-1","valor":"100.00"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pix", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, body, string(svc.lastRaw))

	var envelope struct {
		Data struct {
			EventID  uuid.UUID `json:"event_id"`
			Received bool      `json:"received"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, eventID, envelope.Data.EventID)
	require.True(t, envelope.Data.Received)
}

func TestPixWebhookAnswers200ForDuplicates(t *testing.T) {
	svc := &fakeWebhookService{result: pixwebhook.IngestResult{EventID: uuid.New(), Duplicate: true}}
	handler := PixWebhook(svc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pix", strings.NewReader(`{"txid":"tx-1"}`))
	w := httptest.NewRecorder()
	handler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestPixWebhookRejectsInvalidBody(t *testing.T) {
	svc := &fakeWebhookService{}
	handler := PixWebhook(svc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pix", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	handler(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Nil(t, svc.lastRaw)
}

func TestPixWebhookPropagatesIngestFailure(t *testing.T) {
	svc := &fakeWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "redis unavailable")}
	handler := PixWebhook(svc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pix", strings.NewReader(`{"txid":"tx-1"}`))
	w := httptest.NewRecorder()
	handler(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
