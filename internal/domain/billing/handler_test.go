package billing

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *mockSources, *echo.Echo) {
	svc, _, src := newTestService()
	return NewHandler(svc), src, echo.New()
}

func jsonContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_CreateInvoice(t *testing.T) {
	h, src, e := newTestHandler()
	patientID, consultationID := consultationFixture(src)

	body := `{"patient_id":"` + patientID.String() + `","type":"consultation","consultation_id":"` + consultationID.String() + `"}`
	c, rec := jsonContext(e, http.MethodPost, body)
	if err := h.CreateInvoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var out map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["total"] != "100" {
		t.Errorf("expected total \"100\", got %v", out["total"])
	}
	items, _ := out["line_items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(items))
	}
	first := items[0].(map[string]interface{})
	if first["origin_kind"] != string(OriginConsultationItem) {
		t.Errorf("unexpected origin kind %v", first["origin_kind"])
	}
}

func TestHandler_CreateInvoice_ExistingPlanReturns200(t *testing.T) {
	h, src, e := newTestHandler()
	patientID, planID := planFixture(src, "300.00")
	body := `{"patient_id":"` + patientID.String() + `","type":"plan","plan_id":"` + planID.String() + `"}`

	c, rec := jsonContext(e, http.MethodPost, body)
	if err := h.CreateInvoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, rec = jsonContext(e, http.MethodPost, body)
	if err := h.CreateInvoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_CreateInvoice_Errors(t *testing.T) {
	h, src, e := newTestHandler()
	patientID, _ := consultationFixture(src)

	c, _ := jsonContext(e, http.MethodPost, `{"patient_id":"`+patientID.String()+`","type":"estimate"}`)
	if code := httpCode(t, h.CreateInvoice(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	c, _ = jsonContext(e, http.MethodPost, `{"patient_id":"`+patientID.String()+`","type":"consultation","consultation_id":"`+uuid.New().String()+`"}`)
	if code := httpCode(t, h.CreateInvoice(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	c, _ = jsonContext(e, http.MethodPost, `{not json`)
	if code := httpCode(t, h.CreateInvoice(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetInvoice(t *testing.T) {
	h, src, e := newTestHandler()
	inv := newConsultationInvoice(t, h.svc, src)

	c, rec := jsonContext(e, http.MethodGet, "")
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.GetInvoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = jsonContext(e, http.MethodGet, "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if code := httpCode(t, h.GetInvoice(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	c, _ = jsonContext(e, http.MethodGet, "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := httpCode(t, h.GetInvoice(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListInvoices(t *testing.T) {
	h, src, e := newTestHandler()
	inv := newConsultationInvoice(t, h.svc, src)
	newConsultationInvoice(t, h.svc, src)

	req := httptest.NewRequest(http.MethodGet, "/?patient_id="+inv.PatientID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListInvoices(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data  []map[string]interface{} `json:"data"`
		Total int                      `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || len(page.Data) != 1 {
		t.Errorf("expected 1 invoice for patient, got %d", page.Total)
	}

	req = httptest.NewRequest(http.MethodGet, "/?patient_id=nope", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	if code := httpCode(t, h.ListInvoices(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_AddItem(t *testing.T) {
	h, src, e := newTestHandler()
	inv := newConsultationInvoice(t, h.svc, src)

	body := `{"origin_kind":"consultation_item","origin_id":"` + uuid.New().String() + `","quantity":2,"unit_price":"15.00"}`
	c, rec := jsonContext(e, http.MethodPost, body)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.AddItem(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var li map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &li)
	if li["total"] != "30" {
		t.Errorf("expected total \"30\", got %v", li["total"])
	}
}

func TestHandler_SubCentAmountsRejected(t *testing.T) {
	h, src, e := newTestHandler()
	inv := newConsultationInvoice(t, h.svc, src)

	cases := []struct {
		name   string
		body   string
		handle echo.HandlerFunc
	}{
		{"add item", `{"origin_kind":"consultation_item","origin_id":"` + uuid.New().String() + `","quantity":3,"unit_price":0.005}`, h.AddItem},
		{"pay direct", `{"amount":"10.005","payment_method":"cash"}`, h.PayDirect},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := jsonContext(e, http.MethodPost, tc.body)
			c.SetParamNames("id")
			c.SetParamValues(inv.ID.String())
			if code := httpCode(t, tc.handle(c)); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestHandler_InstallmentFlow(t *testing.T) {
	h, src, e := newTestHandler()
	patientID, planID := planFixture(src, "300.00")
	inv := createPlanInvoice(t, h.svc, patientID, planID)

	body := `{"installments":[
		{"sequence":1,"planned_amount":"150.00","due_date":"2026-01-15"},
		{"sequence":2,"planned_amount":"150.00","due_date":"2026-02-15"}]}`
	c, rec := jsonContext(e, http.MethodPost, body)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.GenerateInstallments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var items []Installment
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || items[0].DueDate.String() != "2026-01-15" {
		t.Fatalf("unexpected installments %+v", items)
	}

	c, rec = jsonContext(e, http.MethodPost, `{"amount_paid":"150.00","payment_method":"card"}`)
	c.SetParamNames("id")
	c.SetParamValues(items[0].ID.String())
	if err := h.PayInstallment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var paid Installment
	json.Unmarshal(rec.Body.Bytes(), &paid)
	if paid.Status != InstallmentPaid {
		t.Errorf("expected paid, got %s", paid.Status)
	}

	c, _ = jsonContext(e, http.MethodPost, `{"amount":"10.00","payment_method":"cash"}`)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if code := httpCode(t, h.PayDirect(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for direct payment on installment invoice, got %d", code)
	}
}

func TestHandler_PayDirectAndList(t *testing.T) {
	h, src, e := newTestHandler()
	inv := newConsultationInvoice(t, h.svc, src)

	c, rec := jsonContext(e, http.MethodPost, `{"amount":"100.00","payment_method":"cash"}`)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.PayDirect(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out Invoice
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Status != StatusPaid {
		t.Errorf("expected paid, got %s", out.Status)
	}

	c, rec = jsonContext(e, http.MethodGet, "")
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.ListDirectPayments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var payments []DirectPayment
	json.Unmarshal(rec.Body.Bytes(), &payments)
	if len(payments) != 1 {
		t.Errorf("expected 1 payment, got %d", len(payments))
	}
}

func TestHandler_CancelInvoice(t *testing.T) {
	h, src, e := newTestHandler()
	inv := newConsultationInvoice(t, h.svc, src)

	c, rec := jsonContext(e, http.MethodPost, "")
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.CancelInvoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = jsonContext(e, http.MethodPost, "")
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if code := httpCode(t, h.CancelInvoice(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 on second cancel, got %d", code)
	}
}
