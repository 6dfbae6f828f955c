package handler

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/sooshee9/AIR01/internal/vsir/batch"
	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/reconcile"
	"github.com/sooshee9/AIR01/internal/vsir/service"
	"github.com/sooshee9/AIR01/internal/vsir/sse"
	"github.com/sooshee9/AIR01/internal/vsir/store"
	"github.com/sooshee9/AIR01/internal/vsir/store/notify"
	"github.com/sooshee9/AIR01/internal/vsir/testutil"
)

const operator = "test-user-001"

type testEnv struct {
	router  *gin.Engine
	records *store.Records
	docs    *store.Documents
	hub     *sse.Hub
	mgr     *service.Manager
	token   string
}

func setupVSIRTest(t *testing.T) *testEnv {
	t.Helper()
	changes := notify.NewHub(nil)
	env := &testEnv{
		records: store.NewRecords(store.NewMemoryRecords(), changes, nil),
		docs:    store.NewDocuments(store.NewMemoryDocuments(), changes, nil),
		hub:     sse.NewHub(nil),
		token:   testutil.DefaultTestToken(),
	}
	exec := reconcile.NewExecutor(env.records, 4, nil)
	env.mgr = service.NewManager(service.Options{
		Records:        env.records,
		Documents:      env.docs,
		Dispatcher:     exec,
		Publisher:      env.hub,
		Activity:       service.NewActivityService(store.NewMemoryActivityLogs(), nil),
		ConfirmTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		env.mgr.Close()
		exec.Wait()
		changes.Close()
	})

	h := NewVSIRHandler(Deps{Manager: env.mgr, Documents: env.docs, Hub: env.hub})
	env.router = testutil.SetupRouter()
	h.RegisterRoutes(testutil.AuthGroup(env.router, "/api/v1"))
	return env
}

func (e *testEnv) login(t *testing.T) *service.Session {
	t.Helper()
	w := testutil.DoRequest(e.router, "POST", "/api/v1/vsir/session", nil, e.token)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	s, err := e.mgr.Get(operator)
	if err != nil {
		t.Fatalf("session not opened: %v", err)
	}
	testutil.WaitFor(t, 3*time.Second, s.Ready)
	return s
}

func data(resp map[string]interface{}) map[string]interface{} {
	d, _ := resp["data"].(map[string]interface{})
	return d
}

func TestVSIR_RequiresToken(t *testing.T) {
	env := setupVSIRTest(t)
	w := testutil.DoRequest(env.router, "GET", "/api/v1/vsir/records", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestVSIR_RequiresSession(t *testing.T) {
	env := setupVSIRTest(t)
	w := testutil.DoRequest(env.router, "GET", "/api/v1/vsir/records", nil, env.token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", w.Code)
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40100 {
		t.Fatalf("expected code 40100, got %v", resp["code"])
	}
}

func TestVSIR_FormSubmitFlow(t *testing.T) {
	env := setupVSIRTest(t)

	w := testutil.DoRequest(env.router, "POST", "/api/v1/vsir/reference/vendorDepts", map[string]interface{}{
		"data": map[string]interface{}{"materialPurchasePoNo": "PO9", "vendorBatchNo": "24/V2", "oaNo": "OA1"},
	}, env.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("add reference: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	env.login(t)

	w = testutil.DoRequest(env.router, "PUT", "/api/v1/vsir/form", map[string]interface{}{
		entity.FieldPONo: "PO9", entity.FieldItemCode: "X", entity.FieldInvoiceDCNo: "DC1",
	}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("update form: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rec, _ := data(testutil.ParseResponse(w))["record"].(map[string]interface{})
	if rec[entity.FieldOANo] != "OA1" {
		t.Fatalf("expected OA filled from vendor dept, got %v", rec[entity.FieldOANo])
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/vsir/form/submit", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := data(testutil.ParseResponse(w))[entity.FieldVendorBatchNo]; got != "24/V2" {
		t.Fatalf("expected vendor batch 24/V2, got %v", got)
	}

	testutil.WaitFor(t, 3*time.Second, func() bool {
		w := testutil.DoRequest(env.router, "GET", "/api/v1/vsir/records", nil, env.token)
		return data(testutil.ParseResponse(w))["total"] == float64(1)
	})

	w = testutil.DoRequest(env.router, "GET", "/api/v1/vsir/form", nil, env.token)
	rec, _ = data(testutil.ParseResponse(w))["record"].(map[string]interface{})
	if rec[entity.FieldPONo] != "" {
		t.Fatalf("expected form reset after submit, got %v", rec[entity.FieldPONo])
	}
}

func TestVSIR_SubmitWithoutBatchIsBadRequest(t *testing.T) {
	env := setupVSIRTest(t)
	env.login(t)

	testutil.DoRequest(env.router, "PUT", "/api/v1/vsir/form", map[string]interface{}{
		entity.FieldPONo: "PO9", entity.FieldItemCode: "X", entity.FieldInvoiceDCNo: "DC1",
	}, env.token)
	w := testutil.DoRequest(env.router, "POST", "/api/v1/vsir/form/submit", nil, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	stored, _ := env.records.GetAll(context.Background(), operator)
	if len(stored) != 0 {
		t.Fatalf("expected no write, got %d records", len(stored))
	}
}

func TestVSIR_TogglesRequirePermission(t *testing.T) {
	env := setupVSIRTest(t)
	env.token = testutil.GenerateTestToken(operator, "Viewer", []string{"vsir:read"})
	env.login(t)

	w := testutil.DoRequest(env.router, "PUT", "/api/v1/vsir/toggles", map[string]interface{}{"auto_import": true}, env.token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestVSIR_TogglesRejectEmptyBody(t *testing.T) {
	env := setupVSIRTest(t)
	env.login(t)

	w := testutil.DoRequest(env.router, "PUT", "/api/v1/vsir/toggles", map[string]interface{}{}, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestVSIR_AutoDeleteConfirmation(t *testing.T) {
	env := setupVSIRTest(t)
	ctx := context.Background()
	for _, code := range []string{"A", "B"} {
		env.records.Add(ctx, operator, &entity.Record{PONo: "PO1", ItemCode: code})
	}
	s := env.login(t)
	testutil.WaitFor(t, 3*time.Second, func() bool { return len(s.Records()) == 2 })

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- testutil.DoRequest(env.router, "PUT", "/api/v1/vsir/toggles", map[string]interface{}{"auto_delete": true}, env.token)
	}()

	var id string
	testutil.WaitFor(t, 3*time.Second, func() bool {
		w := testutil.DoRequest(env.router, "GET", "/api/v1/vsir/confirmations", nil, env.token)
		items, _ := data(testutil.ParseResponse(w))["items"].([]interface{})
		if len(items) != 1 {
			return false
		}
		id, _ = items[0].(map[string]interface{})["id"].(string)
		return id != ""
	})

	w := testutil.DoRequest(env.router, "POST", "/api/v1/vsir/confirmations/"+id, map[string]interface{}{}, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without accept, got %d", w.Code)
	}
	w = testutil.DoRequest(env.router, "POST", "/api/v1/vsir/confirmations/"+id, map[string]interface{}{"accept": true}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("answer: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	toggled := <-done
	if toggled.Code != http.StatusOK {
		t.Fatalf("toggles: expected 200, got %d: %s", toggled.Code, toggled.Body.String())
	}
	if data(testutil.ParseResponse(toggled))["auto_delete"] != true {
		t.Fatalf("expected auto_delete on, got %s", toggled.Body.String())
	}
	testutil.WaitFor(t, 3*time.Second, func() bool {
		stored, _ := env.records.GetAll(ctx, operator)
		return len(stored) == 0
	})

	w = testutil.DoRequest(env.router, "POST", "/api/v1/vsir/confirmations/"+id, map[string]interface{}{"accept": true}, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for answered confirmation, got %d", w.Code)
	}
}

func TestVSIR_DeleteMissingRecord(t *testing.T) {
	env := setupVSIRTest(t)
	env.login(t)

	w := testutil.DoRequest(env.router, "DELETE", "/api/v1/vsir/records/nope", nil, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestVSIR_EditAndVendorBatch(t *testing.T) {
	env := setupVSIRTest(t)
	ctx := context.Background()
	prefix := batch.Prefix(time.Now())
	env.records.Add(ctx, operator, &entity.Record{PONo: "PO1", ItemCode: "A", VendorBatchNo: prefix + "3"})
	s := env.login(t)
	testutil.WaitFor(t, 3*time.Second, func() bool { return len(s.Records()) == 1 })
	id := s.Records()[0].ID

	w := testutil.DoRequest(env.router, "POST", "/api/v1/vsir/form/edit/"+id, nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d", w.Code)
	}
	if got := data(testutil.ParseResponse(w))["editing_id"]; got != id {
		t.Fatalf("expected editing id %s, got %v", id, got)
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/vsir/next-vendor-batch-no", nil, env.token)
	if got := data(testutil.ParseResponse(w))["vendor_batch_no"]; got != prefix+"4" {
		t.Fatalf("expected next batch %s4, got %v", prefix, got)
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/vsir/form/reset", nil, env.token)
	if _, editing := data(testutil.ParseResponse(w))["editing_id"]; editing {
		t.Fatalf("expected editing cleared after reset")
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/vsir/form/edit/missing", nil, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 editing a missing record, got %d", w.Code)
	}
}

func TestVSIR_UnknownReferenceCollection(t *testing.T) {
	env := setupVSIRTest(t)
	w := testutil.DoRequest(env.router, "POST", "/api/v1/vsir/reference/vsirRecords", map[string]interface{}{
		"data": map[string]interface{}{"poNo": "PO1"},
	}, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestVSIR_ReferenceLifecycle(t *testing.T) {
	env := setupVSIRTest(t)
	w := testutil.DoRequest(env.router, "POST", "/api/v1/vsir/reference/psir", map[string]interface{}{
		"id":   "psir-1",
		"data": map[string]interface{}{"poNo": "PO1", "indentNo": "IND1"},
	}, env.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.router, "PUT", "/api/v1/vsir/reference/psir/psir-1", map[string]interface{}{
		"data": map[string]interface{}{"indentNo": "IND2"},
	}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	docs, _ := env.docs.GetAll(context.Background(), operator, entity.CollectionPSIR)
	if len(docs) != 1 || docs[0].Data.Str("indentNo") != "IND2" || docs[0].Data.Str("poNo") != "PO1" {
		t.Fatalf("unexpected documents %+v", docs)
	}

	w = testutil.DoRequest(env.router, "DELETE", "/api/v1/vsir/reference/psir/psir-1", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	w = testutil.DoRequest(env.router, "DELETE", "/api/v1/vsir/reference/psir/psir-1", nil, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", w.Code)
	}
}

func TestVSIR_ExportWorkbook(t *testing.T) {
	env := setupVSIRTest(t)
	env.records.Add(context.Background(), operator, &entity.Record{PONo: "PO1", ItemCode: "A", QtyReceived: 2})
	s := env.login(t)
	testutil.WaitFor(t, 3*time.Second, func() bool { return len(s.Records()) == 1 })

	w := testutil.DoRequest(env.router, "GET", "/api/v1/vsir/records/export", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue("VSIR", "C2"); v != "PO1" {
		t.Fatalf("expected PO1 in C2, got %q", v)
	}
}

func TestVSIR_StreamSendsCurrentRecords(t *testing.T) {
	env := setupVSIRTest(t)
	env.records.Add(context.Background(), operator, &entity.Record{PONo: "PO1", ItemCode: "A"})
	s := env.login(t)
	testutil.WaitFor(t, 3*time.Second, func() bool { return len(s.Records()) == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("/api/v1/vsir/events?token=%s", env.token), nil)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		env.router.ServeHTTP(w, req)
		close(done)
	}()

	testutil.WaitFor(t, 3*time.Second, func() bool { return env.hub.Len() == 1 })
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: connected") {
		t.Fatalf("missing connected event: %s", body)
	}
	if !strings.Contains(body, "event: "+sse.EventRecords) || !strings.Contains(body, `"PO1"`) {
		t.Fatalf("missing records snapshot: %s", body)
	}
	if env.hub.Len() != 0 {
		t.Fatalf("expected client unregistered")
	}
}

func TestVSIR_Logout(t *testing.T) {
	env := setupVSIRTest(t)
	env.login(t)

	w := testutil.DoRequest(env.router, "DELETE", "/api/v1/vsir/session", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = testutil.DoRequest(env.router, "DELETE", "/api/v1/vsir/session", nil, env.token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
}

func TestVSIR_ImportReferenceFile(t *testing.T) {
	env := setupVSIRTest(t)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, _ := mw.CreateFormFile("file", "issues.csv")
	part.Write([]byte("materialPurchasePoNo,vendorBatchNo,itemCode\nPO1,24/V7,A\n"))
	mw.Close()

	req, _ := http.NewRequest("POST", "/api/v1/vsir/reference/vendorIssues/import", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := data(testutil.ParseResponse(w))["created"]; got != float64(1) {
		t.Fatalf("expected 1 created, got %v", got)
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/vsir/reference/vendorIssues/import", nil, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file, got %d", w.Code)
	}
}
