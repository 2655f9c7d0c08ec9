package cashier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentalcare/clinic/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func operatorRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithUser(req.Context(), "op-7", auth.RoleCashier))
}

func TestHandler_OpenAndFetchSession(t *testing.T) {
	h, e := newTestHandler()

	rec := httptest.NewRecorder()
	if err := h.OpenSession(e.NewContext(operatorRequest(http.MethodPost, `{"opening_amount":"100.00"}`), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var sess Session
	json.Unmarshal(rec.Body.Bytes(), &sess)
	if sess.OpenedBy != "op-7" {
		t.Errorf("expected operator op-7, got %q", sess.OpenedBy)
	}

	rec = httptest.NewRecorder()
	if err := h.FetchOpenSession(e.NewContext(operatorRequest(http.MethodGet, ""), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	err := h.OpenSession(e.NewContext(operatorRequest(http.MethodPost, `{}`), httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on second open, got %v", err)
	}
}

func TestHandler_FetchOpenSession_None(t *testing.T) {
	h, e := newTestHandler()
	err := h.FetchOpenSession(e.NewContext(operatorRequest(http.MethodGet, ""), httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_RegisterPaymentAndClose(t *testing.T) {
	h, e := newTestHandler()
	sess, _ := h.svc.OpenSession(operatorRequest(http.MethodPost, "").Context(), OpenSessionRequest{}, "op-7")

	body := `{"invoice_id":"` + uuid.New().String() + `","amount":"45.00","payment_method":"cash"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(operatorRequest(http.MethodPost, body), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())
	if err := h.RegisterPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Payment
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.OperatorID != "op-7" {
		t.Errorf("expected operator op-7, got %q", p.OperatorID)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(operatorRequest(http.MethodPost, `{"closing_amount":"145.00"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())
	if err := h.CloseSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var closed Session
	json.Unmarshal(rec.Body.Bytes(), &closed)
	if closed.Status != SessionClosed {
		t.Errorf("expected closed, got %s", closed.Status)
	}

	c = e.NewContext(operatorRequest(http.MethodPost, body), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())
	err := h.RegisterPayment(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on closed session, got %v", err)
	}
}

func TestHandler_GetSession_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(operatorRequest(http.MethodGet, ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.GetSession(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
