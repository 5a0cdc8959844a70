package api

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/najdeno/internal/db"
	"github.com/erazemk/najdeno/internal/embedding"
	"github.com/erazemk/najdeno/internal/intake"
	"github.com/erazemk/najdeno/internal/matching"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

const testJWTSecret = "test-secret"

type stubEmbedder map[string]model.Embedding

func (s stubEmbedder) EmbedURL(ctx context.Context, imageURL string, fetch embedding.FetchFunc) (model.Embedding, error) {
	if emb, ok := s[imageURL]; ok {
		return emb, nil
	}
	return nil, &embedding.EncodingError{Op: "fetch", Err: errors.New("not found")}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.MatchNotice
}

func (n *recordingNotifier) NotifyMatch(ctx context.Context, notice model.MatchNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notice)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type testEnv struct {
	server   *httptest.Server
	db       *sql.DB
	token    string
	embedder stubEmbedder
	notifier *recordingNotifier
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)
	env := &testEnv{db: database, embedder: stubEmbedder{}, notifier: &recordingNotifier{}}

	svc := &intake.Service{
		Store:    intake.DBStore{DB: database},
		Embedder: env.embedder,
		Engine:   matching.NewEngine(),
		Coordinator: &matching.Coordinator{
			Claimer:  matching.StoreClaimer{DB: database},
			Notifier: env.notifier,
		},
	}

	router := NewRouter(Config{DB: database, JWTSecret: testJWTSecret, Intake: svc})
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)

	// Create admin user.
	ctx := context.Background()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	if _, err := store.CreateUser(ctx, database, "Admin", "admin@example.com", string(hash), model.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	env.token = env.login(t, "admin@example.com", "password")
	return env
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if body.Token == "" {
		t.Fatal("empty token from login")
	}
	return body.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestLoginEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "admin@example.com", "password": "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "password"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown user, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "not-an-email"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid body, got %d", resp.StatusCode)
	}
}

func TestRegister(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ana", "email": "Ana@Example.com", "password": "longenough",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decode[tokenResponse](t, resp)
	if body.Token == "" || body.User == nil || body.User.Email != "ana@example.com" {
		t.Errorf("unexpected register response %+v", body)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ana again", "email": "ana@example.com", "password": "longenough",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Bob", "email": "bob@example.com", "password": "short",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodGet, "/api/me/items", env.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/logout", env.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from logout, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/me/items", env.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestCreateItemRequiresAuth(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/items", "", map[string]string{
		"title": "Keys", "description": "bunch of keys on a ring", "category": "keys", "type": "found",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/items", "garbage", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", resp.StatusCode)
	}
}

func TestCreateItemValidation(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/items", env.token, map[string]string{
		"title":       "Ke",
		"description": "short",
		"type":        "stolen",
		"imageUrl":    "ftp://example.com/a.jpg",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	body := decode[validationResponse](t, resp)
	got := map[string]string{}
	for _, f := range body.Fields {
		got[f.Field] = f.Tag
	}
	want := map[string]string{
		"title":       "min",
		"description": "min",
		"category":    "required",
		"type":        "oneof",
		"imageUrl":    "http_url",
	}
	for field, tag := range want {
		if got[field] != tag {
			t.Errorf("field %s: expected tag %q, got %q", field, tag, got[field])
		}
	}

	items, _ := store.ListItems(context.Background(), env.db)
	if len(items) != 0 {
		t.Errorf("expected no items stored, got %d", len(items))
	}
}

func TestCreateItemWithoutImage(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/items", env.token, map[string]string{
		"title": "Keys", "description": "bunch of keys found on a bench", "category": "keys", "type": "found",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	item := decode[model.Item](t, resp)
	if item.ID == 0 || item.Status != model.ItemStatusActive || item.Embedding != nil {
		t.Errorf("unexpected item %+v", item)
	}
	if env.notifier.count() != 0 {
		t.Errorf("expected no emails, got %d", env.notifier.count())
	}
}

func TestCreateItemMatches(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	finder, _ := store.CreateUser(ctx, env.db, "Finder", "finder@example.com", "x", model.RoleUser)
	found, _ := store.CreateItem(ctx, env.db, finder.ID, model.NewItem{
		Type: model.ItemTypeFound, Title: "Backpack", Description: "found red backpack near the park", Category: "bags",
	})
	if _, err := store.SetItemEmbedding(ctx, env.db, found.ID, model.Embedding{1, 0}); err != nil {
		t.Fatal(err)
	}
	env.embedder["https://img.example.com/lost.jpg"] = model.Embedding{0.8, 0.6}

	resp := env.do(t, http.MethodPost, "/api/items", env.token, map[string]string{
		"title":       "Red backpack",
		"description": "red backpack lost near park",
		"category":    "bags",
		"type":        "lost",
		"imageUrl":    "https://img.example.com/lost.jpg",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	item := decode[model.Item](t, resp)
	if item.Status != model.ItemStatusMatched {
		t.Errorf("expected new item matched, got %q", item.Status)
	}
	stored, _ := store.GetItem(ctx, env.db, found.ID)
	if stored.Status != model.ItemStatusMatched {
		t.Errorf("expected found item matched, got %q", stored.Status)
	}
	if env.notifier.count() != 2 {
		t.Errorf("expected 2 notification sends, got %d", env.notifier.count())
	}

	resp = env.do(t, http.MethodGet, "/api/me/matches", env.token, nil)
	matches := decode[[]model.Match](t, resp)
	if len(matches) != 1 || matches[0].FoundItemID != found.ID {
		t.Errorf("unexpected matches %+v", matches)
	}
}

func TestListAndGetItems(t *testing.T) {
	env := setupTestServer(t)

	for _, title := range []string{"Umbrella", "Wallet"} {
		resp := env.do(t, http.MethodPost, "/api/items", env.token, map[string]string{
			"title": title, "description": "description long enough", "category": "misc", "type": "lost",
		})
		resp.Body.Close()
	}

	resp := env.do(t, http.MethodGet, "/api/items", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	items := decode[[]model.Item](t, resp)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "Wallet" {
		t.Errorf("expected newest first, got %q", items[0].Title)
	}
	if items[0].Owner == nil || items[0].Owner.Name != "Admin" {
		t.Errorf("expected owner info, got %+v", items[0].Owner)
	}

	resp = env.do(t, http.MethodGet, "/api/items/999", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/items/abc", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDeleteItemPermissions(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	other, _ := store.CreateUser(ctx, env.db, "Other", "other@example.com", string(hash), model.RoleUser)
	item, _ := store.CreateItem(ctx, env.db, other.ID, model.NewItem{
		Type: model.ItemTypeLost, Title: "Phone", Description: "black phone lost", Category: "phones",
	})
	mine, _ := store.CreateItem(ctx, env.db, 1, model.NewItem{
		Type: model.ItemTypeLost, Title: "Watch", Description: "silver watch lost", Category: "jewellery",
	})

	otherToken := env.login(t, "other@example.com", "password")
	resp := env.do(t, http.MethodDelete, "/api/items/"+itoa(mine.ID), otherToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 deleting someone else's item, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/api/items/"+itoa(item.ID), env.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected admin delete to succeed, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/items/"+itoa(item.ID), "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestUploadsNotConfigured(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/uploads", env.token, map[string]string{"contentType": "image/jpeg"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	body := decode[healthResponse](t, resp)
	if body.Status != "ok" {
		t.Errorf("unexpected health %+v", body)
	}

	resp = env.do(t, http.MethodGet, "/metrics", "", nil)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(data), "najdeno_http_request_duration_seconds") {
		t.Error("expected http metrics to be exported")
	}
}

func TestUsersRequireAdmin(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	store.CreateUser(ctx, env.db, "Other", "other@example.com", string(hash), model.RoleUser)
	otherToken := env.login(t, "other@example.com", "password")

	resp := env.do(t, http.MethodGet, "/api/users", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/users", otherToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/users", env.token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	users := decode[[]model.User](t, resp)
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %d", len(users))
	}

	resp = env.do(t, http.MethodGet, "/api/users/999", env.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUpdateUserRoleAppliesToExistingToken(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	other, _ := store.CreateUser(ctx, env.db, "Other", "other@example.com", string(hash), model.RoleUser)
	otherToken := env.login(t, "other@example.com", "password")

	resp := env.do(t, http.MethodPut, "/api/users/"+itoa(other.ID), env.token, map[string]string{"role": "owner"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/api/users/"+itoa(other.ID), env.token, map[string]string{"role": model.RoleAdmin})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if u := decode[model.User](t, resp); u.Role != model.RoleAdmin {
		t.Errorf("expected admin role, got %q", u.Role)
	}

	// The token was issued with the user role.
	resp = env.do(t, http.MethodGet, "/api/users", otherToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected promoted user to list users, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/api/users/1", env.token, map[string]string{"role": model.RoleUser})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 demoting yourself, got %d", resp.StatusCode)
	}
}

func TestResetUserPassword(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	other, _ := store.CreateUser(ctx, env.db, "Other", "other@example.com", string(hash), model.RoleUser)

	resp := env.do(t, http.MethodPut, "/api/users/"+itoa(other.ID)+"/password", env.token, map[string]string{"password": "short"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/api/users/"+itoa(other.ID)+"/password", env.token, map[string]string{"password": "new-password"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	env.login(t, "other@example.com", "new-password")

	resp = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "other@example.com", "password": "password"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected old password to fail, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/api/users/999/password", env.token, map[string]string{"password": "new-password"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeactivateUser(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	other, _ := store.CreateUser(ctx, env.db, "Other", "other@example.com", string(hash), model.RoleUser)
	item, _ := store.CreateItem(ctx, env.db, other.ID, model.NewItem{
		Type: model.ItemTypeLost, Title: "Phone", Description: "black phone lost", Category: "phones",
	})
	otherToken := env.login(t, "other@example.com", "password")

	resp := env.do(t, http.MethodDelete, "/api/users/1", env.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 deactivating yourself, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/api/users/"+itoa(other.ID), env.token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decode[deactivateResponse](t, resp); body.WithdrawnItems != 1 {
		t.Errorf("expected 1 withdrawn item, got %+v", body)
	}

	resp = env.do(t, http.MethodGet, "/api/me/items", otherToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected existing token to be rejected, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "other@example.com", "password": "password"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected login to fail, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/items", "", nil)
	for _, it := range decode[[]model.Item](t, resp) {
		if it.ID == item.ID {
			t.Error("withdrawn item still listed")
		}
	}

	resp = env.do(t, http.MethodDelete, "/api/users/"+itoa(other.ID), env.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 on second deactivation, got %d", resp.StatusCode)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
