package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poletrack/internal/auth"
	"poletrack/internal/auth/authtest"
	"poletrack/internal/config"
	"poletrack/internal/database/dbtest"
	"poletrack/internal/moves"
	"poletrack/internal/notes"
	"poletrack/internal/progress"
	"poletrack/internal/tasks"
)

// fakeQueue 记录入队任务；同一用户的清除任务与 asynq 一样按固定任务 ID 冲突。
type fakeQueue struct {
	tasks []*asynq.Task
	ids   map[string]bool
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.ids == nil {
		q.ids = map[string]bool{}
	}
	id := uuid.NewString()
	if task.Type() == tasks.TypeUserPurge {
		var payload tasks.UserPurgePayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return nil, err
		}
		id = tasks.UserPurgeTaskID(payload.UserID)
		if q.ids[id] {
			return nil, asynq.ErrTaskIDConflict
		}
	}
	q.ids[id] = true
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: id, Type: task.Type()}, nil
}

type testServer struct {
	router    *gin.Engine
	directory *auth.Directory
	queue     *fakeQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	directory := auth.NewDirectory(db)
	queue := &fakeQueue{}

	router := NewRouter(logger)
	RegisterRoutes(router, Dependencies{
		Auth:      authtest.NewService(t),
		Directory: directory,
		Moves:     moves.NewService(db, logger),
		Statuses:  progress.NewStore(db, logger),
		Notes:     notes.NewStore(db, logger),
		Images:    &fakePipeline{},
		Queue:     queue,
		Redis:     rdb,
		Logger:    logger,
		AuthCfg: config.AuthConfig{
			LoginRateLimit:     10,
			LoginLockThreshold: 3,
			LoginLockTTL:       15 * time.Minute,
		},
	})
	return &testServer{router: router, directory: directory, queue: queue}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// signup 注册并登录，返回访问令牌与登录响应。
func (s *testServer) signup(t *testing.T, email string, admin bool) (string, *httptest.ResponseRecorder) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/auth/register", "", gin.H{"email": email, "password": "pole-dance-123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	if admin {
		_, err := s.directory.SetAdmin(context.Background(), email, true)
		require.NoError(t, err)
	}

	w = s.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": email, "password": "pole-dance-123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken, w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func moveBody(name string) gin.H {
	return gin.H{
		"name":        name,
		"description": "A move used in handler tests",
		"level":       "Beginner",
		"steps": []gin.H{
			{"title": "Grip", "description": "Hold the pole firmly"},
			{"title": "Spin", "description": "Swing around with both knees bent"},
		},
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminPublishFlow(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.signup(t, "admin@example.com", true)
	userToken, _ := s.signup(t, "user@example.com", false)

	w := s.do(t, http.MethodPost, "/v1/admin/moves", userToken, moveBody("Fireman Spin"))
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode[map[string]any](t, w)["kind"])

	w = s.do(t, http.MethodPost, "/v1/admin/moves", "", moveBody("Fireman Spin"))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/v1/admin/moves", adminToken, moveBody("Fireman Spin"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[moves.Move](t, w)
	assert.Equal(t, moves.StatusUnpublished, created.Status)

	w = s.do(t, http.MethodPost, "/v1/admin/moves", adminToken, moveBody("fireman spin"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/v1/moves/"+created.Slug, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/v1/admin/moves/"+created.ID.String()+"/publish", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, moves.StatusPublished, decode[moves.Move](t, w).Status)

	w = s.do(t, http.MethodGet, "/v1/moves?level=Beginner", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[moves.Page[moves.MoveSummary]](t, w)
	require.Len(t, page.Items, 1)
	assert.Equal(t, created.ID, page.Items[0].ID)

	w = s.do(t, http.MethodGet, "/v1/moves/"+created.Slug, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[moves.MoveDetail](t, w)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, 1, detail.Steps[0].OrderIndex)
	assert.Equal(t, 2, detail.Steps[1].OrderIndex)

	w = s.do(t, http.MethodGet, "/v1/admin/moves/"+created.ID.String()+"/history", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[historyResponse](t, w)
	assert.Len(t, history.Items, 2)

	w = s.do(t, http.MethodGet, "/v1/moves?limit=101", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/v1/moves?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/v1/admin/moves/not-a-uuid", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminPurgeEnqueuesAssetCleanup(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.signup(t, "admin@example.com", true)

	w := s.do(t, http.MethodPost, "/v1/admin/moves", adminToken, moveBody("Butterfly"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[moves.Move](t, w).ID.String()

	w = s.do(t, http.MethodDelete, "/v1/admin/moves/"+id+"/purge", adminToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "purge requires soft delete first")

	w = s.do(t, http.MethodDelete, "/v1/admin/moves/"+id, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, moves.StatusDeleted, decode[moves.Move](t, w).Status)

	w = s.do(t, http.MethodDelete, "/v1/admin/moves/"+id+"/purge", adminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	require.Len(t, s.queue.tasks, 1)
	assert.Equal(t, tasks.TypeMoveAssetsPurge, s.queue.tasks[0].Type())

	w = s.do(t, http.MethodGet, "/v1/admin/moves/"+id, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProgressEndpoints(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.signup(t, "admin@example.com", true)
	userToken, _ := s.signup(t, "user@example.com", false)

	w := s.do(t, http.MethodPost, "/v1/admin/moves", adminToken, moveBody("Chair Spin"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[moves.Move](t, w).ID.String()

	// 未发布的动作对用户不可见。
	w = s.do(t, http.MethodPut, "/v1/moves/"+id+"/status", userToken, gin.H{"status": "WANT"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/v1/admin/moves/"+id+"/publish", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/moves/"+id+"/status", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", w.Body.String())

	w = s.do(t, http.MethodPut, "/v1/moves/"+id+"/status", userToken, gin.H{"status": "ALMOST", "note": "left side only"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPut, "/v1/moves/"+id+"/status", userToken, gin.H{"status": "DONE"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPut, "/v1/moves/"+id+"/status", userToken, gin.H{"status": "MAYBE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/v1/moves/"+id+"/status", userToken, gin.H{"note": "no status"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"status": "required"}, decode[map[string]any](t, w)["fields"])

	// 请求体本身无法解析时返回真实的绑定错误，而不是 status 必填。
	w = s.do(t, http.MethodPut, "/v1/moves/"+id+"/status", userToken, gin.H{"status": "DONE", "note": 42})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	assert.Nil(t, body["fields"])
	assert.Contains(t, body["error"], "note")

	w = s.do(t, http.MethodGet, "/v1/moves/"+id+"/status", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[statusResponse](t, w)
	assert.Equal(t, "DONE", string(status.Status))
	assert.Nil(t, status.Note)

	w = s.do(t, http.MethodGet, "/v1/statuses?status=DONE", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[itemsResponse[statusResponse]](t, w).Items, 1)

	w = s.do(t, http.MethodGet, "/v1/statuses?status=WANT", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[itemsResponse[statusResponse]](t, w).Items)

	w = s.do(t, http.MethodPost, "/v1/moves/"+id+"/notes", userToken, gin.H{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/moves/"+id+"/notes", userToken, gin.H{"content": "first try"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	note := decode[noteResponse](t, w)

	w = s.do(t, http.MethodGet, "/v1/moves/"+id+"/notes", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[itemsResponse[noteResponse]](t, w).Items, 1)

	// 其他用户看不到也删不掉。
	otherToken, _ := s.signup(t, "other@example.com", false)
	w = s.do(t, http.MethodGet, "/v1/moves/"+id+"/notes", otherToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[itemsResponse[noteResponse]](t, w).Items)
	w = s.do(t, http.MethodDelete, "/v1/notes/"+note.ID.String(), otherToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/notes/"+note.ID.String(), userToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, "/v1/notes/"+note.ID.String(), userToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMeAndAccountDeletion(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Ana@Example.com", false)

	w := s.do(t, http.MethodGet, "/v1/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[auth.Me](t, w)
	assert.Equal(t, "ana@example.com", me.Email)
	assert.False(t, me.IsAdmin)

	w = s.do(t, http.MethodDelete, "/v1/me", token, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = s.do(t, http.MethodDelete, "/v1/me", token, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, s.queue.tasks, 1)
	var payload tasks.UserPurgePayload
	require.NoError(t, json.Unmarshal(s.queue.tasks[0].Payload(), &payload))
	assert.Equal(t, me.UserID, payload.UserID)
}

func TestLoginLockAndRefreshRotation(t *testing.T) {
	s := newTestServer(t)
	_, login := s.signup(t, "user@example.com", false)

	var refresh *http.Cookie
	for _, c := range login.Result().Cookies() {
		if c.Name == refreshTokenCookieName {
			refresh = c
		}
	}
	require.NotNil(t, refresh)

	w := s.do(t, http.MethodPost, "/v1/auth/refresh", "", nil, refresh)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/v1/auth/refresh", "", nil, refresh)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "rotated token must not be reusable")

	for i := 0; i < 3; i++ {
		w = s.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "user@example.com", "password": "wrong-password"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w = s.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "user@example.com", "password": "pole-dance-123"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = s.do(t, http.MethodPost, "/v1/auth/forgot-password", "", gin.H{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}
