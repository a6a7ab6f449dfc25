package routes

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"stayhub-sync-server/models"
	"stayhub-sync-server/storage"
	"stayhub-sync-server/utils"

	"github.com/glebarez/sqlite"
	"github.com/kataras/iris/v12"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// buildAdminTestApp wires the diagnostics route behind the real verifier and
// the admin gate, the same way main.go mounts the operational API.
func buildAdminTestApp(t *testing.T) *iris.Application {
	t.Helper()
	os.Setenv("ACCESS_TOKEN_SECRET", "testsecret")

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.WebhookEvent{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	storage.DB = db

	app := iris.New()
	accessTokenVerifier := utils.NewAccessTokenVerifier()
	accessTokenVerifierMiddleware := accessTokenVerifier.Verify(func() interface{} { return new(utils.AccessToken) })

	webhooks := app.Party("/api/webhooks", accessTokenVerifierMiddleware, utils.AdminOnlyMiddleware)
	{
		webhooks.Get("/diagnostics/{organizationId}", WebhookDiagnostics)
	}
	if err := app.Build(); err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	return app
}

func getDiagnostics(app *iris.Application, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/webhooks/diagnostics/org-1", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	app.ServeHTTP(resp, req)
	return resp
}

func TestOperationalAPIRequiresAdminToken(t *testing.T) {
	app := buildAdminTestApp(t)

	// No token
	if resp := getDiagnostics(app, ""); resp.Code == http.StatusOK {
		t.Fatalf("expected non-200 without token, got %d", resp.Code)
	}

	// Signed token, wrong role
	userToken, err := utils.CreateAccessToken(1, "user")
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if resp := getDiagnostics(app, userToken); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user role, got %d", resp.Code)
	}

	// Admin token
	adminToken, err := utils.CreateAccessToken(1, "admin")
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if resp := getDiagnostics(app, adminToken); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin role, got %d", resp.Code)
	}
}
