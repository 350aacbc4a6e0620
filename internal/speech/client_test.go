package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ireland-samantha/relaybot/internal/config"
	"github.com/ireland-samantha/relaybot/internal/logging"
)

func newTestClient(srvURL string, opts Options) *Client {
	opts.FolderID = "folder"
	opts.STTEndpoint = srvURL + "/stt"
	opts.TTSEndpoint = srvURL + "/tts"
	return NewClient(APIKeyAuth("secret"), opts, logging.Discard())
}

func TestRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/stt", r.URL.Path)
		assert.Equal(t, "Api-Key secret", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "folder", q.Get("folderId"))
		assert.Equal(t, "ru-RU", q.Get("lang"))
		assert.Equal(t, "general", q.Get("topic"))
		assert.Equal(t, "false", q.Get("profanityFilter"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("OggS-audio"), body)

		_, _ = w.Write([]byte(`{"result":" привет мир "}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, Options{})
	text, err := c.Recognize(context.Background(), []byte("OggS-audio"))
	require.NoError(t, err)
	assert.Equal(t, "привет мир", text)
}

func TestRecognize_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error_code":"UNAUTHORIZED"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, Options{})

	_, err := c.Recognize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = c.Recognize(context.Background(), []byte("audio"))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "recognize", apiErr.Op)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "UNAUTHORIZED")
}

func TestSynthesize(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantLang string
	}{
		{name: "russian voice", opts: Options{Voice: "alena"}, wantLang: "ru-RU"},
		{name: "english voice", opts: Options{Voice: "john"}, wantLang: "en-US"},
		{name: "explicit language", opts: Options{Voice: "alena", TTSLanguage: "kk-KK"}, wantLang: "kk-KK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/tts", r.URL.Path)
				assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
				require.NoError(t, r.ParseForm())

				assert.Equal(t, "Добрый день", r.PostForm.Get("text"))
				assert.Equal(t, tt.wantLang, r.PostForm.Get("lang"))
				assert.Equal(t, tt.opts.Voice, r.PostForm.Get("voice"))
				assert.Equal(t, "oggopus", r.PostForm.Get("format"))
				assert.Equal(t, "1.0", r.PostForm.Get("speed"))
				assert.Equal(t, "folder", r.PostForm.Get("folderId"))

				_, _ = w.Write([]byte("OggS"))
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, tt.opts)
			audio, err := c.Synthesize(context.Background(), "Добрый день")
			require.NoError(t, err)
			assert.Equal(t, []byte("OggS"), audio)
		})
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	c := NewClient(APIKeyAuth("k"), Options{}, logging.Discard())

	_, err := c.Synthesize(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestVoiceLanguage(t *testing.T) {
	for _, v := range []string{"alena", "jane", "omazh", "zahar", "ermil"} {
		assert.Equal(t, "ru-RU", VoiceLanguage(v), v)
	}
	assert.Equal(t, "en-US", VoiceLanguage("john"))
}

func TestNewAuthorizer(t *testing.T) {
	ctx := context.Background()

	auth, err := NewAuthorizer(config.YandexConfig{APIKey: "key", IAMToken: "token"}, nil)
	require.NoError(t, err)
	header, err := auth.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Api-Key key", header)

	auth, err = NewAuthorizer(config.YandexConfig{IAMToken: "token"}, nil)
	require.NoError(t, err)
	header, err = auth.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer token", header)

	auth, err = NewAuthorizer(config.YandexConfig{SAKeyJSON: string(testKeyJSON(t, generateKey(t)))}, nil)
	require.NoError(t, err)
	assert.IsType(t, &IAMTokenManager{}, auth)

	_, err = NewAuthorizer(config.YandexConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = NewAuthorizer(config.YandexConfig{SAKeyFile: "/nonexistent/key.json"}, nil)
	assert.Error(t, err)
}
