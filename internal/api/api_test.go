package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach_reconcile/internal/checkpoint"
	"coach_reconcile/internal/logger"
)

type envelope struct {
	Code    interface{}     `json:"code"`
	Message string          `json:"message"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
}

func seeded(t *testing.T) *checkpoint.MemoryStore {
	t.Helper()
	ctx := context.Background()
	cps := checkpoint.NewMemoryStore()
	base := time.Date(2024, 12, 20, 3, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, cps.SaveRun(ctx, checkpoint.Run{
			RunID:      id,
			Collection: "videos",
			State:      "done",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			UpdatedAt:  base.Add(time.Duration(i) * time.Hour),
			Report:     json.RawMessage(`{"runId":"` + id + `"}`),
		}))
	}
	require.NoError(t, cps.Save(ctx, "run-b", "fetching", []byte(`{}`)))
	require.NoError(t, cps.Save(ctx, "run-b", "tokenizing", []byte(`{}`)))
	return cps
}

func do(t *testing.T, cps checkpoint.Store, target string) (int, envelope) {
	t.Helper()
	app := NewApp(cps, logger.Discard())
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	status, env := do(t, seeded(t), "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", env.Status)
	assert.Contains(t, string(env.Data), `"healthy"`)
}

func TestListRuns(t *testing.T) {
	status, env := do(t, seeded(t), "/api/v1/runs?limit=2")
	require.Equal(t, http.StatusOK, status)

	var runs []checkpoint.Run
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)
	assert.Empty(t, runs[0].Report)

	status, env = do(t, seeded(t), "/api/v1/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "error", env.Status)

	status, env = do(t, checkpoint.NewMemoryStore(), "/api/v1/runs")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestGetRun(t *testing.T) {
	status, env := do(t, seeded(t), "/api/v1/runs/run-b")
	require.Equal(t, http.StatusOK, status)

	var data struct {
		Run   checkpoint.Run `json:"run"`
		Steps []struct {
			Step string `json:"step"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "run-b", data.Run.RunID)
	assert.JSONEq(t, `{"runId":"run-b"}`, string(data.Run.Report))
	require.Len(t, data.Steps, 2)
	assert.Equal(t, "fetching", data.Steps[0].Step)
	assert.Equal(t, "tokenizing", data.Steps[1].Step)
}

func TestGetRunNotFound(t *testing.T) {
	status, env := do(t, seeded(t), "/api/v1/runs/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "RUN_002", env.Code)
	assert.Equal(t, "error", env.Status)

	status, _ = do(t, seeded(t), "/api/v1/unknown")
	assert.Equal(t, http.StatusNotFound, status)
}
