package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ireland-samantha/relaybot/internal/telegram"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RELAYBOT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("RELAYBOT_COMPLETION_API_KEY", "sk-test")
	t.Setenv("RELAYBOT_STORAGE_BACKEND", "memory")
	t.Setenv("RELAYBOT_LOG_LEVEL", "error")
}

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "relaybot "+telegram.Version+"\n", out.String())
}

func TestNewApp(t *testing.T) {
	setBaseEnv(t)

	a, err := newApp(context.Background(), "")
	require.NoError(t, err)
	defer a.close()

	assert.Equal(t, "memory", string(a.cfg.Storage.Backend))
	assert.NotNil(t, a.api)
	assert.NotNil(t, a.dispatcher)

	rec := httptest.NewRecorder()
	a.metricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relaybot_conversations")

	a.drain()
}

func TestNewApp_InvalidConfig(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("RELAYBOT_COMPLETION_API_KEY", "")

	_, err := newApp(context.Background(), "")
	assert.Error(t, err)
}

func TestWebhookCmds(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
		params  []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		methods = append(methods, r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:])
		params = append(params, p)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok": true, "result": true}`))
	}))
	defer srv.Close()

	setBaseEnv(t)
	t.Setenv("RELAYBOT_TELEGRAM_API_URL", srv.URL)
	t.Setenv("RELAYBOT_WEBHOOK_URL", "https://bot.example.com")
	t.Setenv("RELAYBOT_WEBHOOK_PATH", "/hook")
	t.Setenv("RELAYBOT_WEBHOOK_SECRET_TOKEN", "s3cret")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"webhook", "set"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Webhook set to https://bot.example.com/hook\n", out.String())

	cmd = newRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"webhook", "delete", "--drop-pending"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Webhook deleted\n", out.String())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"deleteWebhook", "setWebhook", "deleteWebhook"}, methods)
	assert.Equal(t, "https://bot.example.com/hook", params[1]["url"])
	assert.Equal(t, "s3cret", params[1]["secret_token"])
	assert.Equal(t, true, params[2]["drop_pending_updates"])
}
