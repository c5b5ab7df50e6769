package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/checkin/internal/checkin"
	"github.com/John-Robertt/checkin/internal/infra/httpx"
)

const formHTML = `<html><head><title>Check in</title></head>
<body><form><input placeholder="Personal Number"><button>Submit</button></form></body></html>`

const challengeHTML = `<html><head><title>Just a moment...</title>
<script src="/cdn-cgi/challenge-platform/h/b/orchestrate/jsch/v1"></script></head>
<body>Checking your browser before accessing the site.</body></html>`

func TestAnalyze(t *testing.T) {
	page := checkin.DefaultPage("")

	ok := Analyze([]byte(formHTML), page)
	assert.Equal(t, "Check in", ok.Title)
	assert.True(t, ok.HasNumberInput)
	assert.False(t, ok.Blocked)

	blocked := Analyze([]byte(challengeHTML), page)
	assert.True(t, blocked.Blocked)
	assert.Equal(t, "challenge", blocked.BlockedMarker)
	assert.False(t, blocked.HasNumberInput)
}

func serve(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestCheck(t *testing.T) {
	c, err := httpx.NewClient(httpx.Options{})
	require.NoError(t, err)

	t.Run("ok", func(t *testing.T) {
		res, err := Check(context.Background(), c, checkin.DefaultPage(serve(t, http.StatusOK, formHTML)))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.True(t, res.HasNumberInput)
		assert.NotEmpty(t, res.FinalURL)
	})

	t.Run("blocked_403", func(t *testing.T) {
		res, err := Check(context.Background(), c, checkin.DefaultPage(serve(t, http.StatusForbidden, challengeHTML)))
		var be *BlockedError
		require.True(t, errors.As(err, &be), "err=%v", err)
		assert.Equal(t, "challenge", be.Marker)
		assert.True(t, res.Blocked)
	})

	t.Run("blocked_200", func(t *testing.T) {
		_, err := Check(context.Background(), c, checkin.DefaultPage(serve(t, http.StatusOK, challengeHTML)))
		var be *BlockedError
		assert.True(t, errors.As(err, &be), "err=%v", err)
	})

	t.Run("status_500", func(t *testing.T) {
		res, err := Check(context.Background(), c, checkin.DefaultPage(serve(t, http.StatusInternalServerError, "<html>oops</html>")))
		var he *HTTPStatusError
		require.True(t, errors.As(err, &he), "err=%v", err)
		assert.Equal(t, http.StatusInternalServerError, he.StatusCode)
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	})
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "HTTP 503", (&HTTPStatusError{StatusCode: 503}).Error())
	assert.Equal(t, "HTTP 302 location=/x", (&HTTPStatusError{StatusCode: 302, Location: " /x "}).Error())
	assert.Equal(t, "blocked", (&BlockedError{}).Error())
	assert.Contains(t, (&BlockedError{Marker: "cloudflare"}).Error(), "cloudflare")
}
