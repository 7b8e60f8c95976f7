package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/notify"
	"github.com/healapp/backend/internal/whatsapp"
)

func postForm(t *testing.T, target, action string) (*http.Response, string) {
	t.Helper()
	resp, err := http.PostForm(target, url.Values{"action": {action}})
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func getPage(t *testing.T, target string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestConfirmationAPI(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(t, "Ana", time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC))

	resp, body := env.do(t, http.MethodGet, "/api/confirm/"+c.ConfirmationToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pub publicConsultation
	require.NoError(t, json.Unmarshal(body, &pub))
	assert.Equal(t, "Ana", pub.PatientName)
	assert.False(t, pub.Answered)
	assert.NotContains(t, string(body), "12345678901")

	resp, body = env.do(t, http.MethodPost, "/api/confirm/"+c.ConfirmationToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &pub))
	assert.Equal(t, consultation.StatusWaiting, pub.Status)
	assert.True(t, pub.Answered)

	// token de uso único
	resp, body = env.do(t, http.MethodPost, "/api/confirm/"+c.ConfirmationToken+"/decline", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Link inválido ou consulta não encontrada.", decodeError(t, body).Error)

	resp, _ = env.do(t, http.MethodGet, "/api/confirm/nonexistent", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeclineAPI(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(t, "Ana", time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC))

	resp, _ := env.do(t, http.MethodPost, "/api/confirm/"+c.ConfirmationToken+"/decline", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := env.service.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusCancelled, got.Status)
	require.NotNil(t, got.ConsumedAt)
}

func TestConfirmPageVariants(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(t, "Ana <b>", time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC))
	page := env.srv.URL + "/confirm/" + c.ConfirmationToken

	resp, html := getPage(t, env.srv.URL+"/confirm/nonexistent")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, html, "Link inválido ou consulta não encontrada.")

	resp, html = getPage(t, page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, html, "Link validado!")
	assert.Contains(t, html, "Ana &lt;b&gt;")
	assert.Contains(t, html, "01/06/2025 às 10:00")
	assert.Contains(t, html, `value="confirm"`)

	resp, html = postForm(t, page, "decline")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, html, "Resposta registrada")
	assert.Contains(t, html, string(consultation.StatusCancelled))
	assert.NotContains(t, html, `value="confirm"`)

	// segundo envio mostra o estado atual sem alterar nada
	resp, html = postForm(t, page, "confirm")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, html, string(consultation.StatusCancelled))
	got, err := env.service.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusCancelled, got.Status)
}

type relayStub struct {
	mu       sync.Mutex
	messages []whatsapp.ConfirmationMessage
	sigOK    bool
}

func TestCreateSendsLinkThroughRelayAndPatientConfirms(t *testing.T) {
	const secret = "relay-secret"
	stub := &relayStub{}
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var msg whatsapp.ConfirmationMessage
		_ = json.Unmarshal(b, &msg)
		stub.mu.Lock()
		stub.messages = append(stub.messages, msg)
		stub.sigOK = r.Header.Get(whatsapp.SignatureHeader) == "sha256="+whatsapp.SignPayload(b, secret)
		stub.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer relay.Close()

	wa := whatsapp.NewClient(whatsapp.Config{RelayURL: relay.URL, RelaySecret: secret})
	disp := notify.NewDispatcher("https://heal.test/", wa, nil, time.UTC, nil)
	env := newTestEnv(t, withNotifier(disp))
	tok := env.signIn(t, auth.RoleStaff)

	resp, body := env.do(t, http.MethodPost, "/api/consultations", tok, map[string]string{
		"patientName":      "Ana",
		"document":         "12345678901",
		"email":            "ana@x.com",
		"phoneNumber":      "11999998888",
		"consultationType": "Pré-natal",
		"professionalName": "Dra. Silva",
		"consultationDate": "2025-06-01T10:00:00-03:00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created consultation.Consultation
	require.NoError(t, json.Unmarshal(body, &created))

	// o envio do link roda em segundo plano
	env.service.Wait()
	stub.mu.Lock()
	require.Len(t, stub.messages, 1)
	msg := stub.messages[0]
	sigOK := stub.sigOK
	stub.mu.Unlock()
	assert.True(t, sigOK)
	assert.Equal(t, "5511999998888", msg.Phone)
	assert.Equal(t, "Ana", msg.PatientName)
	assert.Equal(t, created.ConfirmationToken, msg.ConfirmationToken)
	assert.Equal(t, "https://heal.test/confirm/"+created.ConfirmationToken, msg.ConfirmationURL)

	// o paciente abre o link recebido
	page := env.srv.URL + strings.TrimPrefix(msg.ConfirmationURL, "https://heal.test")
	resp, html := postForm(t, page, "confirm")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, html, string(consultation.StatusWaiting))

	resp, body = env.do(t, http.MethodGet, "/api/consultations/"+created.ID, tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var after consultation.Consultation
	require.NoError(t, json.Unmarshal(body, &after))
	assert.Equal(t, consultation.StatusWaiting, after.Status)
}

func TestCreateSucceedsWhenRelayFails(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer relay.Close()

	wa := whatsapp.NewClient(whatsapp.Config{RelayURL: relay.URL})
	env := newTestEnv(t, withNotifier(notify.NewDispatcher("https://heal.test", wa, nil, time.UTC, nil)))
	tok := env.signIn(t, auth.RoleStaff)

	resp, body := env.do(t, http.MethodPost, "/api/consultations", tok, map[string]string{
		"patientName":      "Ana",
		"document":         "12345678901",
		"email":            "ana@x.com",
		"phoneNumber":      "11999998888",
		"consultationType": "Pré-natal",
		"professionalName": "Dra. Silva",
		"consultationDate": "2025-06-01T10:00:00-03:00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	list, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConfirmAfterStaffCancelReturnsStaticNotFound(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, auth.RoleStaff)
	c := env.seed(t, "Ana", time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC))

	resp, body := env.do(t, http.MethodPut, "/api/consultations", tok, map[string]string{"id": c.ID, "status": string(consultation.StatusCancelled)})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	for _, path := range []string{"/api/confirm/" + c.ConfirmationToken, "/api/confirm/" + c.ConfirmationToken + "/decline"} {
		resp, body = env.do(t, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "Link inválido ou consulta não encontrada.", decodeError(t, body).Error)
		assert.NotContains(t, string(body), string(consultation.StatusCancelled))
	}
}
