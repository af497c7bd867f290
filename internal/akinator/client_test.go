package akinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gamePage = `<html><script>
var uid_ext_session = 'uid-123';
var frontaddr = 'front-456';
</script></html>`

func jsonp(body string) string {
	return fmt.Sprintf("jQuery331023608747682107778_1690000000(%s)", body)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	region := NewRegion("ru", ThemeCharacters, srv.Client())
	region.Update(Endpoint{BaseURL: srv.URL, GameServer: srv.URL})

	return NewClient(region, false, srv.Client(), testLogger()), srv
}

func TestClient_StartParsesHandshakeAndFirstStep(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/game", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, gamePage)
	})
	mux.HandleFunc("/new_session", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "uid-123", q.Get("uid_ext_session"))
		assert.Equal(t, "front-456", q.Get("frontaddr"))
		assert.Equal(t, "false", q.Get("childMod"))

		_, _ = io.WriteString(w, jsonp(`{
			"completion": "OK",
			"parameters": {
				"identification": {"session": "sess-1", "signature": "sig-1"},
				"step_information": {"question": "Он реален?", "progression": "0.00000", "step": "0"}
			}
		}`))
	})

	c, _ := newTestClient(t, mux)

	hs, si, err := c.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sess-1", hs.ID)
	assert.Equal(t, "sig-1", hs.Signature)
	assert.Equal(t, "front-456", hs.Frontaddr)
	assert.NotEmpty(t, hs.Nonce)

	assert.Equal(t, 0, si.Step)
	assert.Equal(t, 0.0, si.Progression)
	assert.Equal(t, "Он реален?", si.Question)
}

func TestClient_AnswerReturnsNextStep(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/answer_api", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "sess-1", q.Get("session"))
		assert.Equal(t, "sig-1", q.Get("signature"))
		assert.Equal(t, "3", q.Get("step"))
		assert.Equal(t, "0", q.Get("answer")) // yes

		_, _ = io.WriteString(w, jsonp(`{
			"completion": "OK",
			"parameters": {"question": "Он певец?", "progression": "42.50000", "step": "4"}
		}`))
	})

	c, _ := newTestClient(t, mux)

	hs := Handshake{ID: "sess-1", Signature: "sig-1", Frontaddr: "front-456", Nonce: "1690000000"}
	si, err := c.Answer(context.Background(), hs, 3, AnswerYes)
	require.NoError(t, err)

	assert.Equal(t, 4, si.Step)
	assert.InDelta(t, 42.5, si.Progression, 0.0001)
	assert.Equal(t, "Он певец?", si.Question)
}

func TestClient_BackAtStepZeroIsLocal(t *testing.T) {
	// сервер не нужен: на step=0 похода в сеть нет
	region := NewRegion("ru", ThemeCharacters, nil)
	c := NewClient(region, false, nil, testLogger())

	_, err := c.Back(context.Background(), Handshake{ID: "sess-1"}, 0)
	assert.ErrorIs(t, err, ErrCantGoBack)
}

func TestClient_BackRewindsOneStep(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cancel_answer", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-1", r.URL.Query().Get("answer"))
		_, _ = io.WriteString(w, jsonp(`{
			"completion": "OK",
			"parameters": {"question": "Он реален?", "progression": "10.00000", "step": "2"}
		}`))
	})

	c, _ := newTestClient(t, mux)

	si, err := c.Back(context.Background(), Handshake{ID: "s", Signature: "g", Nonce: "n"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, si.Step)
}

func TestClient_ListGuessesReturnsTopCandidate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, jsonp(`{
			"completion": "OK",
			"parameters": {"elements": [
				{"element": {"name": "Виктор Цой", "description": "Музыкант", "absolute_picture_path": "https://img.example/tsoi.png"}},
				{"element": {"name": "Кто-то ещё", "description": "-", "absolute_picture_path": ""}}
			]}
		}`))
	})

	c, _ := newTestClient(t, mux)

	g, err := c.ListGuesses(context.Background(), Handshake{ID: "s", Signature: "g", Nonce: "n"}, 30)
	require.NoError(t, err)
	assert.Equal(t, "Виктор Цой", g.Name)
	assert.Equal(t, "Музыкант", g.Description)
	assert.Equal(t, "https://img.example/tsoi.png", g.ImageURL)
}

func TestClient_CompletionCodeTaxonomy(t *testing.T) {
	cases := []struct {
		completion string
		want       error
	}{
		{"KO - SERVER DOWN", ErrServerDown},
		{"KO - TIMEOUT", ErrTimedOut},
		{"KO - UNAUTHORIZED", ErrTimedOut},
		{"KO - ELEM LIST IS EMPTY", ErrNoQuestions},
		{"WARN - NO QUESTION", ErrNoQuestions},
		{"KO - TECHNICAL ERROR", ErrConnection},
		{"whatever else", ErrConnection},
	}

	for _, tc := range cases {
		t.Run(tc.completion, func(t *testing.T) {
			assert.ErrorIs(t, classifyCompletion(tc.completion), tc.want)
		})
	}
}

func TestClient_AnswerMapsRemoteFailures(t *testing.T) {
	completion := "KO - SERVER DOWN"

	mux := http.NewServeMux()
	mux.HandleFunc("/answer_api", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, jsonp(fmt.Sprintf(`{"completion": %q, "parameters": null}`, completion)))
	})

	c, _ := newTestClient(t, mux)
	hs := Handshake{ID: "s", Signature: "g", Nonce: "n"}

	_, err := c.Answer(context.Background(), hs, 1, AnswerNo)
	assert.ErrorIs(t, err, ErrServerDown)

	completion = "KO - TIMEOUT"
	_, err = c.Answer(context.Background(), hs, 1, AnswerNo)
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestClient_UnauthorizedBodyIsTimedOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/answer_api", func(w http.ResponseWriter, r *http.Request) {
		// бэкенд в этом случае отвечает вообще не JSON-ом
		_, _ = io.WriteString(w, "KO - UNAUTHORIZED")
	})

	c, _ := newTestClient(t, mux)

	_, err := c.Answer(context.Background(), Handshake{ID: "s", Nonce: "n"}, 1, AnswerYes)
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestClient_MalformedBodyIsConnectionFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/answer_api", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>502 Bad Gateway</html>")
	})

	c, _ := newTestClient(t, mux)

	_, err := c.Answer(context.Background(), Handshake{ID: "s", Nonce: "n"}, 1, AnswerYes)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestParseAnswer(t *testing.T) {
	for s, want := range map[string]Answer{
		"yes":          AnswerYes,
		"no":           AnswerNo,
		"dont_know":    AnswerDontKnow,
		"probably":     AnswerProbably,
		"probably_not": AnswerProbablyNot,
	} {
		got, err := ParseAnswer(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseAnswer("partially")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrConnection))
}
