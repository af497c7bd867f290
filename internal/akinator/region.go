package akinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
)

type Theme string

const (
	ThemeCharacters Theme = "c"
	ThemeAnimals    Theme = "a"
	ThemeObjects    Theme = "o"
)

// subjectID — идентификатор темы в arrUrlThemesToPlay на странице akinator.com.
func (t Theme) subjectID() string {
	switch t {
	case ThemeAnimals:
		return "14"
	case ThemeObjects:
		return "2"
	default:
		return "1" // characters
	}
}

// Endpoint — пара адресов, которые бэкенд назначает региону:
// BaseURL для страницы игры и new_session/answer, GameServer — ws-сервер
// для cancel_answer/list.
type Endpoint struct {
	BaseURL    string
	GameServer string
}

// Region хранит текущий endpoint для (язык, тема).
// Обновляется одним писателем при фейловере, читается каждым запросом,
// поэтому доступ через RWMutex.
type Region struct {
	lang  string
	theme Theme
	http  *http.Client

	mu sync.RWMutex
	ep Endpoint
}

var themesRegex = regexp.MustCompile(`'arrUrlThemesToPlay',\s*(\[.*?\])`)

func NewRegion(lang string, theme Theme, hc *http.Client) *Region {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Region{lang: lang, theme: theme, http: hc}
}

// Endpoint возвращает текущий endpoint (может быть пустым до первого Resolve/Update).
func (r *Region) Endpoint() Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ep
}

// Update подменяет endpoint целиком. Используется фейловером и тестами.
func (r *Region) Update(ep Endpoint) {
	r.mu.Lock()
	r.ep = ep
	r.mu.Unlock()
}

// Resolve скрейпит {lang}.akinator.com и выбирает ws-сервер по теме.
// Вызывается при старте и после ErrServerDown, до следующего Start.
func (r *Region) Resolve(ctx context.Context) error {
	base := fmt.Sprintf("https://%s.akinator.com", r.lang)
	return r.resolveFrom(ctx, base)
}

func (r *Region) resolveFrom(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return fmt.Errorf("region: build request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: region: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: region: read body: %v", ErrConnection, err)
	}

	m := themesRegex.FindSubmatch(body)
	if m == nil {
		return fmt.Errorf("%w: region: arrUrlThemesToPlay not found", ErrConnection)
	}

	var themes []struct {
		Name      string `json:"translated_theme_name"`
		URLWs     string `json:"urlWs"`
		SubjectID string `json:"subject_id"`
	}
	if err := json.Unmarshal(m[1], &themes); err != nil {
		return fmt.Errorf("%w: region: parse themes: %v", ErrConnection, err)
	}

	want := r.theme.subjectID()
	for _, t := range themes {
		if t.SubjectID == want {
			r.Update(Endpoint{BaseURL: base, GameServer: t.URLWs})
			return nil
		}
	}
	return fmt.Errorf("%w: region: no server for theme %q", ErrConnection, r.theme)
}
