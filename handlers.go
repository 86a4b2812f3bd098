package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"cardscan/models"
	"cardscan/pkg/ocr"
	"cardscan/pkg/sheet"
	"cardscan/pkg/store"
)

var (
	cardScanner          *ocr.Scanner
	maxUploadBytes int64 = 5 << 20
	// engineVersion is read once at startup; /healthz reports it.
	engineVersion = "unknown"
)

// accepted upload types, by sniffed content
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

func setupRoutes(r *gin.Engine) {
	r.GET("/healthz", healthHandler)
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)
	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.GET("/sessions", listSessionsHandler)
	authGroup.POST("/sessions", newSessionHandler)
	authGroup.POST("/scans", createScanHandler)
	authGroup.GET("/scans", listScansHandler)
	authGroup.GET("/scans/:id", getScanHandler)
	authGroup.GET("/records", listRecordsHandler)
	authGroup.POST("/records", appendRecordHandler)
	authGroup.PUT("/records", replaceRecordsHandler)
	authGroup.DELETE("/records", clearRecordsHandler)
	authGroup.GET("/records/export", exportRecordsHandler)
	authGroup.PATCH("/records/:pos", updateRecordHandler)
	authGroup.DELETE("/records/:pos", deleteRecordHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}
		token, err := jwt.Parse(authHeader[7:], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			return
		}
		username, _ := claims["username"].(string)
		role, _ := claims["role"].(string)
		sid, _ := claims["sid"].(string)
		if username == "" || sid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			return
		}
		c.Set("username", username)
		c.Set("session_id", sid)
		if role != "" {
			c.Set("role", role)
		}
		c.Next()
	}
}

// currentSession loads the authenticated user and the session named in the
// token. It answers 401 itself when either is missing or they do not match.
func currentSession(c *gin.Context) (*models.User, *models.Session, bool) {
	ctx := c.Request.Context()
	user, err := appStore.UserByUsername(ctx, c.GetString("username"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return nil, nil, false
	}
	sess, err := appStore.SessionByID(ctx, c.GetString("session_id"))
	if err != nil || sess.UserID != user.ID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session not found"})
		return nil, nil, false
	}
	return user, sess, true
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "tesseract": engineVersion})
}

func registerHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := Register(c.Request.Context(), req.Username, req.Password); err != nil {
		switch {
		case errors.Is(err, errUserExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, errUsernameRequired), errors.Is(err, errPasswordTooShort):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully"})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	user, err := Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tokens, err := openSessionTokens(ctx, user)
	if err != nil {
		log.Error().Err(err).Str("username", user.Username).Msg("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "login successful",
		"token":         tokens.Token,
		"refresh_token": tokens.RefreshToken,
		"session_id":    tokens.SessionID,
	})
}

// refreshHandler exchanges a refresh token for a new access token on the same
// session and rotates the refresh token.
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	rt, err := findRefreshToken(ctx, req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	user, err := appStore.UserByID(ctx, rt.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	access, err := signAccessToken(user, roleName(ctx, user), rt.SessionID, rotatedAccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	if err := appStore.RevokeRefreshToken(ctx, rt.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	newRT, err := createRefreshToken(ctx, user.ID, rt.SessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": access, "refresh_token": newRT, "session_id": rt.SessionID})
}

func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	rt, err := findRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	if err := appStore.RevokeRefreshToken(ctx, rt.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}

func meHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"username":   c.GetString("username"),
		"role":       c.GetString("role"),
		"session_id": c.GetString("session_id"),
	})
}

func listSessionsHandler(c *gin.Context) {
	user, _, ok := currentSession(c)
	if !ok {
		return
	}
	items, err := appStore.ListSessions(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

// newSessionHandler starts an empty session without logging out.
func newSessionHandler(c *gin.Context) {
	user, _, ok := currentSession(c)
	if !ok {
		return
	}
	tokens, err := openSessionTokens(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open session"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// createScanHandler reads one card image, appends the extracted name to the
// session table and returns the raw text alongside the new row.
func createScanHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	source := c.DefaultPostForm("source", models.SourceFile)
	if source != models.SourceFile && source != models.SourceCamera {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be camera or file"})
		return
	}
	profile := cardScanner.Profile()
	if name := c.PostForm("profile"); name != "" {
		p, err := ocr.ProfileByName(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		profile = p
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if fh.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file too large (max %dMB)", maxUploadBytes>>20)})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	f.Close()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
		return
	}
	if int64(len(data)) > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file too large (max %dMB)", maxUploadBytes>>20)})
		return
	}
	contentType := http.DetectContentType(data)
	if !allowedImageTypes[contentType] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only JPEG and PNG images are accepted"})
		return
	}

	ctx := c.Request.Context()
	scan := &models.Scan{
		SessionID:   sess.ID,
		FileName:    fh.Filename,
		ContentType: contentType,
		Source:      source,
		Profile:     profile.Name,
	}
	if err := appStore.CreateScan(ctx, scan); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db save failed"})
		return
	}

	img, err := ocr.Decode(bytes.NewReader(data))
	if err != nil {
		failScan(c, scan, err)
		return
	}
	res, err := cardScanner.ScanImage(ctx, img, profile)
	if err != nil {
		failScan(c, scan, err)
		return
	}

	rec := &models.Record{FirstName: res.Name.First, LastName: res.Name.Last, ScanID: &scan.ID}
	if err := appStore.AppendRecord(ctx, sess.ID, rec); err != nil {
		markScanFailed(ctx, scan, fmt.Sprintf("record could not be saved: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db save failed", "scan_id": scan.ID})
		return
	}
	scan.RawText = res.Text
	scan.RecordID = &rec.ID
	if err := appStore.UpdateScan(ctx, scan); err != nil {
		log.Warn().Err(err).Uint("scan_id", scan.ID).Msg("scan update failed")
	}
	log.Info().
		Str("component", "http").
		Str("session", sess.ID).
		Uint("scan_id", scan.ID).
		Str("source", source).
		Int("position", rec.Position).
		Bool("name_found", !res.Name.Empty()).
		Msg("card scanned")

	c.JSON(http.StatusOK, gin.H{
		"scan_id":  scan.ID,
		"text":     res.Text,
		"lines":    res.Lines,
		"fallback": res.Fallback,
		"record":   rec,
		"message":  strings.TrimSpace(rec.FirstName + " " + rec.LastName + " added"),
	})
}

// failScan keeps the failed scan with its reason and answers 422, or 503 when
// no OCR engine is built in.
func failScan(c *gin.Context, scan *models.Scan, cause error) {
	reason := fmt.Sprintf("file could not be read or processed: %v", cause)
	markScanFailed(c.Request.Context(), scan, reason)
	log.Warn().Err(cause).Str("component", "http").Uint("scan_id", scan.ID).Msg("scan failed")
	status := http.StatusUnprocessableEntity
	if errors.Is(cause, ocr.ErrEngineUnavailable) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": reason, "scan_id": scan.ID})
}

func markScanFailed(ctx context.Context, scan *models.Scan, reason string) {
	scan.Failed = true
	scan.FailedReason = truncate(reason, 255)
	if err := appStore.UpdateScan(ctx, scan); err != nil {
		log.Warn().Err(err).Uint("scan_id", scan.ID).Msg("scan update failed")
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}

func listScansHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	items, err := appStore.ListScans(c.Request.Context(), sess.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func getScanHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	scan, err := appStore.ScanByID(c.Request.Context(), sess.ID, uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, scan)
}

type recordInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	// ScanID links a saved grid row back to the card it was read from.
	ScanID *uint `json:"scan_id"`
}

func listRecordsHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	rows, err := appStore.ListRecords(c.Request.Context(), sess.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func appendRecordHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req recordInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec := &models.Record{FirstName: strings.TrimSpace(req.FirstName), LastName: strings.TrimSpace(req.LastName)}
	if err := appStore.AppendRecord(c.Request.Context(), sess.ID, rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// replaceRecordsHandler saves the whole edited grid. Rows may have been
// added, removed or reordered by the client.
func replaceRecordsHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req []recordInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	rows := make([]models.Record, len(req))
	for i, r := range req {
		if r.ScanID != nil {
			if _, err := appStore.ScanByID(ctx, sess.ID, *r.ScanID); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("row %d: unknown scan_id %d", i, *r.ScanID)})
				return
			}
		}
		rows[i] = models.Record{FirstName: strings.TrimSpace(r.FirstName), LastName: strings.TrimSpace(r.LastName), ScanID: r.ScanID}
	}
	out, err := appStore.ReplaceRecords(ctx, sess.ID, rows)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parsePosition(c *gin.Context) (int, bool) {
	pos, err := strconv.Atoi(c.Param("pos"))
	if err != nil || pos < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position"})
		return 0, false
	}
	return pos, true
}

// updateRecordHandler edits one row; omitted fields keep their value.
func updateRecordHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	pos, ok := parsePosition(c)
	if !ok {
		return
	}
	var req struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	rows, err := appStore.ListRecords(ctx, sess.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if pos >= len(rows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "row not found"})
		return
	}
	first, last := rows[pos].FirstName, rows[pos].LastName
	if req.FirstName != nil {
		first = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		last = strings.TrimSpace(*req.LastName)
	}
	rec, err := appStore.UpdateRecord(ctx, sess.ID, pos, first, last)
	if err != nil {
		if errors.Is(err, store.ErrOutOfRange) {
			c.JSON(http.StatusNotFound, gin.H{"error": "row not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func deleteRecordHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	pos, ok := parsePosition(c)
	if !ok {
		return
	}
	if err := appStore.DeleteRecord(c.Request.Context(), sess.ID, pos); err != nil {
		if errors.Is(err, store.ErrOutOfRange) {
			c.JSON(http.StatusNotFound, gin.H{"error": "row not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "row deleted"})
}

func clearRecordsHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	if err := appStore.ClearRecords(c.Request.Context(), sess.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all records cleared"})
}

// exportRecordsHandler streams the session table as an xlsx workbook.
func exportRecordsHandler(c *gin.Context) {
	_, sess, ok := currentSession(c)
	if !ok {
		return
	}
	rows, err := appStore.ListRecords(c.Request.Context(), sess.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no records to export"})
		return
	}
	var buf bytes.Buffer
	if err := sheet.WriteRecords(&buf, rows); err != nil {
		log.Error().Err(err).Str("session", sess.ID).Msg("export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, sheet.FileName))
	c.Data(http.StatusOK, sheet.ContentType, buf.Bytes())
}
