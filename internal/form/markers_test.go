package form

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchMarkers_VisibleText(t *testing.T) {
	html := []byte(`<html><body><div>Thank you for checking in</div></body></html>`)

	m, ok := MatchMarkers(html, []string{"nope", "THANK YOU"})
	require.True(t, ok)
	require.Equal(t, "THANK YOU", m)
}

func TestMatchMarkers_ChallengeOnlyInAttributes(t *testing.T) {
	html := []byte(`<html><head><title>Just a moment...</title></head><body>
<form id="challenge-form" action="/cdn-cgi/challenge-platform/h/b"></form>
<iframe src="https://challenges.cloudflare.com/turnstile/v0"></iframe>
</body></html>`)

	_, ok := MatchMarkers(html, []string{"cloudflare"})
	require.True(t, ok)
	_, ok = MatchMarkers(html, []string{"challenge"})
	require.True(t, ok)
}

func TestMatchMarkers_NoMatch(t *testing.T) {
	html := []byte(`<html><body><input placeholder="Personal Number"></body></html>`)

	_, ok := MatchMarkers(html, []string{"challenge", "cloudflare"})
	require.False(t, ok)
}

func TestMatchMarkers_EmptyInputs(t *testing.T) {
	_, ok := MatchMarkers(nil, []string{"x"})
	require.False(t, ok)
	_, ok = MatchMarkers([]byte("<p>x</p>"), nil)
	require.False(t, ok)
	_, ok = MatchMarkers([]byte("<p>x</p>"), []string{"   "})
	require.False(t, ok)
}
