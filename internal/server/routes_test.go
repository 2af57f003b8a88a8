package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordpot/internal/config"
	"wordpot/internal/fair"
	"wordpot/internal/game"
	"wordpot/internal/logger"
	"wordpot/internal/words"
)

type testServer struct {
	*FiberServer
	manager *game.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	committer, err := fair.NewCommitter(fair.ProfileSHA256)
	require.NoError(t, err)
	econ := config.DefaultEconomics()
	econ.BonusWordCount = 0

	m, err := game.NewManager(game.Deps{
		Store:     game.NewMemoryStore(nil),
		Catalog:   words.MustDefault(),
		Economics: econ,
		Committer: committer,
		Codec:     game.NewAnswerCodec(nil),
		Selector:  game.FixedAnswer("CRANE"),
		Resolver:  game.NewStaticDirectory(),
		Log:       logger.Discard(),
	})
	require.NoError(t, err)

	srv := New(Options{Manager: m, Hub: game.NewHub(logger.Discard()), Log: logger.Discard()})
	srv.RegisterFiberRoutes()
	return &testServer{FiberServer: srv, manager: m}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var result map[string]interface{}
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &result), string(data))
	}
	return resp.StatusCode, result
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	gameInfo, ok := body["game"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "running", gameInfo["status"])
	assert.NotContains(t, body, "database")
}

func TestActiveRound_NoneOpen(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/v1/round/active", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "No active round", body["error"])
}

func TestGuessFlow(t *testing.T) {
	s := newTestServer(t)
	r, err := s.manager.CreateRound(context.Background(), game.CreateOptions{})
	require.NoError(t, err)

	status, body := s.do(t, http.MethodGet, "/api/v1/round/active", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, r.ID, body["round_id"])

	status, body = s.do(t, http.MethodPost, "/api/v1/guess", `{"player_id":1,"word":"house","paid":true}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "incorrect", body["status"])
	assert.EqualValues(t, 1, body["sequence_index"])

	status, body = s.do(t, http.MethodPost, "/api/v1/guess", `{"player_id":2,"word":"HOUSE","paid":true}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_guessed", body["code"])

	status, body = s.do(t, http.MethodGet, "/api/v1/round/1/wheel", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"HOUSE"}, body["words"])

	status, body = s.do(t, http.MethodGet, "/api/v1/round/1/commitment", "")
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["commit_hash"])
	assert.NotContains(t, body, "word")

	status, body = s.do(t, http.MethodPost, "/api/v1/guess", `{"player_id":3,"word":"CRANE","paid":true}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "correct", body["status"])
	assert.EqualValues(t, 3, body["winner_id"])

	status, body = s.do(t, http.MethodGet, "/api/v1/round/1/commitment", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CRANE", body["word"])

	status, body = s.do(t, http.MethodGet, "/api/v1/round/1/top-guessers", "")
	assert.Equal(t, http.StatusOK, status)
	top, ok := body["top_guessers"].([]interface{})
	require.True(t, ok)
	assert.Len(t, top, 1)

	status, body = s.do(t, http.MethodPost, "/api/v1/guess", `{"player_id":4,"word":"SLATE","paid":true}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "round_closed", body["code"])
}

func TestGuess_Validation(t *testing.T) {
	s := newTestServer(t)
	_, err := s.manager.CreateRound(context.Background(), game.CreateOptions{})
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed body", `{`, http.StatusBadRequest, ""},
		{"missing player", `{"word":"HOUSE"}`, http.StatusBadRequest, "invalid_player"},
		{"short word", `{"player_id":1,"word":"HOU"}`, http.StatusBadRequest, "invalid_word"},
		{"digits", `{"player_id":1,"word":"HOU5E"}`, http.StatusBadRequest, "invalid_word"},
		{"not a word", `{"player_id":1,"word":"QQQQQ"}`, http.StatusBadRequest, "invalid_word"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, http.MethodPost, "/api/v1/guess", tt.body)
			assert.Equal(t, tt.status, status)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
			}
		})
	}
}

func TestRoundEndpoints_NotFoundAndBadID(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/v1/round/42/commitment", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "round_not_found", body["code"])

	status, _ = s.do(t, http.MethodGet, "/api/v1/round/abc/wheel", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.App.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusUpgradeRequired, status)
}

func TestErrorBody(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&game.InvalidWordError{Word: "X", Reason: game.ReasonLength}, http.StatusBadRequest, "invalid_word"},
		{&game.AlreadyGuessedError{Word: "HOUSE"}, http.StatusConflict, "already_guessed"},
		{game.ErrUnknownPlayer, http.StatusBadRequest, "invalid_player"},
		{game.ErrRoundAlreadyResolved, http.StatusConflict, "round_resolved"},
		{game.ErrRoundClosed, http.StatusConflict, "round_closed"},
		{game.ErrRoundNotFound, http.StatusNotFound, "round_not_found"},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, body := errorBody(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, body["code"], tt.err.Error())
	}
}
