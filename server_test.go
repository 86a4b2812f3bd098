package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"cardscan/models"
	"cardscan/pkg/ocr"
	"cardscan/pkg/store"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(b)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// cardText makes the fake engine read the same text for every image.
func cardText(text string) ocr.Engine {
	return ocr.EngineFunc(func(_ context.Context, _ image.Image, _ ocr.Options) (string, error) {
		return text, nil
	})
}

func setupTestServer(t *testing.T, engine ocr.Engine) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("test-secret")
	maxUploadBytes = 5 << 20
	appStore = store.NewMemoryStore()
	if err := store.Seed(context.Background(), appStore, "admin123"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cardScanner = ocr.NewScanner(engine, ocr.ScannerConfig{Concurrency: 2})
	r := gin.New()
	setupRoutes(r)
	return r
}

func login(t *testing.T, r http.Handler, username, password string) (token, refresh string) {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/login", jsonBody(t, map[string]string{"username": username, "password": password}), "", "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var out struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, resp, &out)
	if out.Token == "" || out.RefreshToken == "" {
		t.Fatalf("missing tokens in %s", resp.Body.String())
	}
	return out.Token, out.RefreshToken
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(160, 100, color.NRGBA{235, 235, 235, 255})); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadCard(t *testing.T, r http.Handler, token string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	fw, err := mw.CreateFormFile("file", "card.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return performRequest(r, http.MethodPost, "/scans", &body, token, mw.FormDataContentType())
}

type recordJSON struct {
	ID        uint   `json:"id"`
	ScanID    *uint  `json:"scan_id"`
	Position  int    `json:"position"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func listRecords(t *testing.T, r http.Handler, token string) []recordJSON {
	t.Helper()
	resp := performRequest(r, http.MethodGet, "/records", nil, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("list records status=%d body=%s", resp.Code, resp.Body.String())
	}
	var rows []recordJSON
	decode(t, resp, &rows)
	return rows
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t, cardText("ACME HOLDİNG A.Ş.\nAYŞE YILMAZ\nPersonel No: 42\n"))

	// 1. Register user
	resp := performRequest(r, http.MethodPost, "/register", jsonBody(t, map[string]string{"username": "user1", "password": "pass123"}), "", "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 2. Login
	token, _ := login(t, r, "user1", "pass123")

	// 3. Scan a card
	resp = uploadCard(t, r, token, pngBytes(t), map[string]string{"source": "camera"})
	if resp.Code != http.StatusOK {
		t.Fatalf("scan failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var scanOut struct {
		ScanID uint       `json:"scan_id"`
		Text   string     `json:"text"`
		Record recordJSON `json:"record"`
	}
	decode(t, resp, &scanOut)
	// "ACME HOLDİNG A.Ş." has dots, so the name line is the second one
	if scanOut.Record.FirstName != "Ayşe" || scanOut.Record.LastName != "Yılmaz" || scanOut.Record.Position != 0 {
		t.Fatalf("unexpected record %+v", scanOut.Record)
	}

	// 4. The scan keeps the raw text
	resp = performRequest(r, http.MethodGet, "/scans/"+strconv.FormatUint(uint64(scanOut.ScanID), 10), nil, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("get scan status=%d body=%s", resp.Code, resp.Body.String())
	}
	var scan struct {
		RawText string `json:"raw_text"`
		Source  string `json:"source"`
	}
	decode(t, resp, &scan)
	if scan.RawText != scanOut.Text || scan.Source != "camera" {
		t.Fatalf("unexpected scan %+v", scan)
	}

	// 5. Manual row, edit, delete
	resp = performRequest(r, http.MethodPost, "/records", jsonBody(t, map[string]string{"first_name": "Can", "last_name": "Demir"}), token, "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("append status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPatch, "/records/1", jsonBody(t, map[string]string{"last_name": "Demirci"}), token, "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", resp.Code, resp.Body.String())
	}
	rows := listRecords(t, r, token)
	if len(rows) != 2 || rows[1].FirstName != "Can" || rows[1].LastName != "Demirci" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	resp = performRequest(r, http.MethodDelete, "/records/0", nil, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", resp.Code, resp.Body.String())
	}
	rows = listRecords(t, r, token)
	if len(rows) != 1 || rows[0].FirstName != "Can" || rows[0].Position != 0 {
		t.Fatalf("rows after delete %+v", rows)
	}

	// 6. Export
	resp = performRequest(r, http.MethodGet, "/records/export", nil, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("export status=%d body=%s", resp.Code, resp.Body.String())
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != `attachment; filename="sirket_kimlik_listesi.xlsx"` {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	f, err := excelize.OpenReader(bytes.NewReader(resp.Body.Bytes()))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	got, _ := f.GetRows("Sheet1")
	if len(got) != 2 || got[0][0] != "Ad" || got[0][1] != "Soyad" || got[1][0] != "Can" || got[1][1] != "Demirci" {
		t.Fatalf("unexpected sheet %v", got)
	}

	// 7. Clear all
	resp = performRequest(r, http.MethodDelete, "/records", nil, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("clear status=%d", resp.Code)
	}
	if rows := listRecords(t, r, token); len(rows) != 0 {
		t.Fatalf("expected empty table got %+v", rows)
	}
	resp = performRequest(r, http.MethodGet, "/records/export", nil, token, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("export of empty table should be 404, got %d", resp.Code)
	}
}

func TestScanWithoutNameStillAddsRow(t *testing.T) {
	r := setupTestServer(t, cardText("1234 5678\n"))
	token, _ := login(t, r, "admin", "admin123")
	resp := uploadCard(t, r, token, pngBytes(t), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("scan status=%d body=%s", resp.Code, resp.Body.String())
	}
	rows := listRecords(t, r, token)
	if len(rows) != 1 || rows[0].FirstName != "" || rows[0].LastName != "" {
		t.Fatalf("expected one empty row, got %+v", rows)
	}
}

func TestScanRejectsBadUploads(t *testing.T) {
	r := setupTestServer(t, cardText("ALİ VELİ"))
	token, _ := login(t, r, "admin", "admin123")

	resp := uploadCard(t, r, token, []byte("GIF89a not really an image"), nil)
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 got %d body=%s", resp.Code, resp.Body.String())
	}

	resp = uploadCard(t, r, token, pngBytes(t), map[string]string{"source": "scanner"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown source got %d", resp.Code)
	}

	resp = uploadCard(t, r, token, pngBytes(t), map[string]string{"profile": "sepia"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown profile got %d", resp.Code)
	}

	maxUploadBytes = 64
	resp = uploadCard(t, r, token, pngBytes(t), nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized file got %d", resp.Code)
	}
	if rows := listRecords(t, r, token); len(rows) != 0 {
		t.Fatalf("rejected uploads must not add rows: %+v", rows)
	}
}

func TestScanFailureMarksScan(t *testing.T) {
	r := setupTestServer(t, ocr.EngineFunc(func(context.Context, image.Image, ocr.Options) (string, error) {
		return "", errors.New("tesseract crashed")
	}))
	token, _ := login(t, r, "admin", "admin123")

	// PNG signature followed by garbage: sniffed as PNG, fails to decode
	broken := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	resp := uploadCard(t, r, token, broken, nil)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for undecodable image got %d body=%s", resp.Code, resp.Body.String())
	}

	resp = uploadCard(t, r, token, pngBytes(t), nil)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for engine failure got %d body=%s", resp.Code, resp.Body.String())
	}

	resp = performRequest(r, http.MethodGet, "/scans", nil, token, "")
	var scans []struct {
		Failed       bool   `json:"failed"`
		FailedReason string `json:"failed_reason"`
	}
	decode(t, resp, &scans)
	if len(scans) != 2 {
		t.Fatalf("expected 2 scans got %d", len(scans))
	}
	for _, s := range scans {
		if !s.Failed || s.FailedReason == "" {
			t.Fatalf("scan not marked failed: %+v", s)
		}
	}
	if rows := listRecords(t, r, token); len(rows) != 0 {
		t.Fatalf("failed scans must not add rows: %+v", rows)
	}
}

type appendFailStore struct {
	*store.MemoryStore
}

func (appendFailStore) AppendRecord(context.Context, string, *models.Record) error {
	return errors.New("disk full")
}

func TestAppendFailureMarksScan(t *testing.T) {
	r := setupTestServer(t, cardText("AYŞE YILMAZ"))
	token, _ := login(t, r, "admin", "admin123")
	appStore = appendFailStore{appStore.(*store.MemoryStore)}

	resp := uploadCard(t, r, token, pngBytes(t), nil)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/scans", nil, token, "")
	var scans []struct {
		Failed   bool  `json:"failed"`
		RecordID *uint `json:"record_id"`
	}
	decode(t, resp, &scans)
	if len(scans) != 1 || !scans[0].Failed || scans[0].RecordID != nil {
		t.Fatalf("scan should be failed and unlinked: %+v", scans)
	}
}

func TestHealthReportsEngineVersion(t *testing.T) {
	r := setupTestServer(t, cardText(""))
	engineVersion = "5.3.0"
	defer func() { engineVersion = "unknown" }()
	resp := performRequest(r, http.MethodGet, "/healthz", nil, "", "")
	var out map[string]string
	decode(t, resp, &out)
	if resp.Code != http.StatusOK || out["tesseract"] != "5.3.0" {
		t.Fatalf("unexpected health %d %v", resp.Code, out)
	}
}

func TestGridSaveKeepsScanLink(t *testing.T) {
	r := setupTestServer(t, cardText("AYŞE YILMAZ"))
	token, _ := login(t, r, "admin", "admin123")
	if resp := uploadCard(t, r, token, pngBytes(t), nil); resp.Code != http.StatusOK {
		t.Fatalf("scan status=%d body=%s", resp.Code, resp.Body.String())
	}
	rows := listRecords(t, r, token)
	if len(rows) != 1 || rows[0].ScanID == nil {
		t.Fatalf("expected one scanned row got %+v", rows)
	}
	scanID := *rows[0].ScanID

	grid := []map[string]any{
		{"first_name": "Elif"},
		{"first_name": "Ayşe", "last_name": "Yıldız", "scan_id": scanID},
	}
	resp := performRequest(r, http.MethodPut, "/records", jsonBody(t, grid), token, "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("replace status=%d body=%s", resp.Code, resp.Body.String())
	}
	rows = listRecords(t, r, token)
	if len(rows) != 2 || rows[1].ScanID == nil || *rows[1].ScanID != scanID {
		t.Fatalf("scan id lost: %+v", rows)
	}

	resp = performRequest(r, http.MethodGet, "/scans/"+strconv.FormatUint(uint64(scanID), 10), nil, token, "")
	var scan struct {
		RecordID *uint `json:"record_id"`
	}
	decode(t, resp, &scan)
	if scan.RecordID == nil || *scan.RecordID != rows[1].ID {
		t.Fatalf("scan points at %v, want %d", scan.RecordID, rows[1].ID)
	}

	bad := []map[string]any{{"first_name": "X", "scan_id": 9999}}
	resp = performRequest(r, http.MethodPut, "/records", jsonBody(t, bad), token, "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown scan_id got %d", resp.Code)
	}
}

func TestEngineUnavailableIs503(t *testing.T) {
	r := setupTestServer(t, ocr.EngineFunc(func(context.Context, image.Image, ocr.Options) (string, error) {
		return "", ocr.ErrEngineUnavailable
	}))
	token, _ := login(t, r, "admin", "admin123")
	resp := uploadCard(t, r, token, pngBytes(t), nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestReplaceRecords(t *testing.T) {
	r := setupTestServer(t, cardText(""))
	token, _ := login(t, r, "admin", "admin123")
	for _, n := range []string{"A", "B", "C"} {
		performRequest(r, http.MethodPost, "/records", jsonBody(t, map[string]string{"first_name": n}), token, "application/json")
	}
	grid := []map[string]string{
		{"first_name": "C", "last_name": "Üç"},
		{"first_name": " A ", "last_name": "Bir"},
	}
	resp := performRequest(r, http.MethodPut, "/records", jsonBody(t, grid), token, "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("replace status=%d body=%s", resp.Code, resp.Body.String())
	}
	rows := listRecords(t, r, token)
	if len(rows) != 2 || rows[0].FirstName != "C" || rows[1].FirstName != "A" || rows[1].Position != 1 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	resp = performRequest(r, http.MethodPatch, "/records/5", jsonBody(t, map[string]string{"first_name": "X"}), token, "application/json")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing row got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodDelete, "/records/abc", nil, token, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad position got %d", resp.Code)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	r := setupTestServer(t, cardText(""))
	first, _ := login(t, r, "admin", "admin123")
	performRequest(r, http.MethodPost, "/records", jsonBody(t, map[string]string{"first_name": "Elif"}), first, "application/json")

	// a new login starts from an empty table
	second, _ := login(t, r, "admin", "admin123")
	if rows := listRecords(t, r, second); len(rows) != 0 {
		t.Fatalf("new session should be empty, got %+v", rows)
	}
	if rows := listRecords(t, r, first); len(rows) != 1 {
		t.Fatalf("old session lost its rows: %+v", rows)
	}

	resp := performRequest(r, http.MethodPost, "/sessions", nil, first, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("new session status=%d", resp.Code)
	}
	var pair struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id"`
	}
	decode(t, resp, &pair)
	if rows := listRecords(t, r, pair.Token); len(rows) != 0 {
		t.Fatalf("fresh session should be empty, got %+v", rows)
	}

	resp = performRequest(r, http.MethodGet, "/sessions", nil, first, "")
	var sessions []struct {
		ID string `json:"id"`
	}
	decode(t, resp, &sessions)
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions got %d", len(sessions))
	}
}

func TestRefreshKeepsSession(t *testing.T) {
	r := setupTestServer(t, cardText(""))
	token, refresh := login(t, r, "admin", "admin123")
	performRequest(r, http.MethodPost, "/records", jsonBody(t, map[string]string{"first_name": "Deniz"}), token, "application/json")

	resp := performRequest(r, http.MethodPost, "/refresh", jsonBody(t, map[string]string{"refresh_token": refresh}), "", "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("refresh status=%d body=%s", resp.Code, resp.Body.String())
	}
	var out struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, resp, &out)
	if rows := listRecords(t, r, out.Token); len(rows) != 1 || rows[0].FirstName != "Deniz" {
		t.Fatalf("refreshed token should see the same session, got %+v", rows)
	}

	// the old refresh token was rotated out
	resp = performRequest(r, http.MethodPost, "/refresh", jsonBody(t, map[string]string{"refresh_token": refresh}), "", "application/json")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token should fail, got %d", resp.Code)
	}

	resp = performRequest(r, http.MethodPost, "/revoke_refresh", jsonBody(t, map[string]string{"refresh_token": out.RefreshToken}), "", "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("revoke status=%d", resp.Code)
	}
	resp = performRequest(r, http.MethodPost, "/refresh", jsonBody(t, map[string]string{"refresh_token": out.RefreshToken}), "", "application/json")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("revoked refresh token should fail, got %d", resp.Code)
	}
}

func TestAuthErrors(t *testing.T) {
	r := setupTestServer(t, cardText(""))

	resp := performRequest(r, http.MethodPost, "/register", jsonBody(t, map[string]string{"username": "bob", "password": "123"}), "", "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("short password should be 400 got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodPost, "/register", jsonBody(t, map[string]string{"username": "admin", "password": "secret1"}), "", "application/json")
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate user should be 409 got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodPost, "/login", jsonBody(t, map[string]string{"username": "admin", "password": "wrong"}), "", "application/json")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("bad password should be 401 got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodGet, "/records", nil, "", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should be 401 got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodGet, "/records", nil, "not-a-jwt", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token should be 401 got %d", resp.Code)
	}

	token, _ := login(t, r, "admin", "admin123")
	resp = performRequest(r, http.MethodGet, "/me", nil, token, "")
	var me map[string]string
	decode(t, resp, &me)
	if me["username"] != "admin" || me["role"] != "administrator" || me["session_id"] == "" {
		t.Fatalf("unexpected /me %v", me)
	}
}

// TestPostgresFlow runs the login and record flow against a real database.
// Opt-in: set DB_DSN_TEST=1 and DB_DSN.
func TestPostgresFlow(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	r := setupTestServer(t, cardText("MEHMET ÖZ\n"))
	gs, err := store.OpenGorm(store.GormConfig{DSN: os.Getenv("DB_DSN"), AutoMigrate: true})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer gs.Close()
	appStore = gs
	if err := store.Seed(context.Background(), appStore, "admin123"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	token, _ := login(t, r, "admin", "admin123")
	resp := uploadCard(t, r, token, pngBytes(t), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("scan status=%d body=%s", resp.Code, resp.Body.String())
	}
	rows := listRecords(t, r, token)
	if len(rows) != 1 || rows[0].FirstName != "Mehmet" || rows[0].LastName != "Öz" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}
