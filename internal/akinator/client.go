package akinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Answer — закрытый набор ответов игрока. На провод уходит код 0-4.
type Answer int

const (
	AnswerYes Answer = iota
	AnswerNo
	AnswerDontKnow
	AnswerProbably
	AnswerProbablyNot
)

func (a Answer) wire() string {
	return strconv.Itoa(int(a))
}

func ParseAnswer(s string) (Answer, error) {
	switch s {
	case "yes":
		return AnswerYes, nil
	case "no":
		return AnswerNo, nil
	case "dont_know":
		return AnswerDontKnow, nil
	case "probably":
		return AnswerProbably, nil
	case "probably_not":
		return AnswerProbablyNot, nil
	default:
		return 0, fmt.Errorf("unknown answer %q", s)
	}
}

// Handshake — непрозрачные идентификаторы удалённой сессии.
// Выдаются только успешным Start и нужны каждому последующему вызову.
type Handshake struct {
	ID        string `json:"session"`
	Signature string `json:"signature"`
	Frontaddr string `json:"frontaddr"`
	Nonce     string `json:"nonce"` // суффикс jsonp-колбэка, фиксируется на сессию
}

// StepInfo — прогресс одной успешной операции.
type StepInfo struct {
	Step        int
	Progression float64
	Question    string
}

// Guess — верхний кандидат из ranked-списка бэкенда.
type Guess struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"absolute_picture_path"`
}

const callbackPrefix = "jQuery331023608747682107778_"

var sessionInfoRegex = regexp.MustCompile(`var uid_ext_session = '(.*)';\s*.*var frontaddr = '(.*)';`)

// Заголовки как у браузера: бэкенд неофициальный и капризный.
var requestHeaders = map[string]string{
	"Accept":           "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":  "en-US,en;q=0.9",
	"User-Agent":       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/81.0.4044.92 Safari/537.36",
	"x-requested-with": "XMLHttpRequest",
}

// Client выполняет четыре операции против скрейпленного бэкенда.
// Семантики игровой сессии здесь нет — только провод и классификация ошибок.
type Client struct {
	http      *http.Client
	region    *Region
	childMode bool
	log       *slog.Logger
}

func NewClient(region *Region, childMode bool, hc *http.Client, log *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{http: hc, region: region, childMode: childMode, log: log}
}

func (c *Client) childMod() string {
	if c.childMode {
		return "true"
	}
	return "false"
}

// softConstraint/questionFilter — предкодированные query-значения,
// как их ожидает бэкенд.
func (c *Client) softConstraint() string {
	if c.childMode {
		return "ETAT%3D%27EN%27"
	}
	return ""
}

func (c *Client) questionFilter() string {
	if c.childMode {
		return ""
	}
	return "cat%3D1"
}

// Start открывает новую удалённую сессию: сначала скрейпит uid/frontaddr
// со страницы игры, затем дергает new_session.
func (c *Client) Start(ctx context.Context) (Handshake, StepInfo, error) {
	ep := c.region.Endpoint()
	if ep.BaseURL == "" || ep.GameServer == "" {
		return Handshake{}, StepInfo{}, fmt.Errorf("%w: region endpoint is not resolved", ErrConnection)
	}

	uid, frontaddr, err := c.fetchSessionInfo(ctx, ep)
	if err != nil {
		return Handshake{}, StepInfo{}, err
	}

	nonce := strconv.FormatInt(time.Now().Unix(), 10)
	u := fmt.Sprintf(
		"%s/new_session?callback=%s%s&urlApiWs=%s&partner=1&childMod=%s&player=website-desktop&uid_ext_session=%s&frontaddr=%s&constraint=ETAT<>'AV'&soft_constraint=%s&question_filter=%s",
		ep.BaseURL, callbackPrefix, nonce, ep.GameServer, c.childMod(), uid, frontaddr,
		c.softConstraint(), c.questionFilter(),
	)

	params, err := c.call(ctx, u)
	if err != nil {
		return Handshake{}, StepInfo{}, err
	}

	var payload struct {
		Identification struct {
			Session   string `json:"session"`
			Signature string `json:"signature"`
		} `json:"identification"`
		StepInformation wireStep `json:"step_information"`
	}
	if err := decodeParams(params, &payload); err != nil {
		return Handshake{}, StepInfo{}, err
	}

	si, err := payload.StepInformation.toStepInfo()
	if err != nil {
		return Handshake{}, StepInfo{}, err
	}

	hs := Handshake{
		ID:        payload.Identification.Session,
		Signature: payload.Identification.Signature,
		Frontaddr: frontaddr,
		Nonce:     nonce,
	}
	return hs, si, nil
}

// Answer продвигает сессию на один шаг.
func (c *Client) Answer(ctx context.Context, hs Handshake, step int, a Answer) (StepInfo, error) {
	ep := c.region.Endpoint()
	u := fmt.Sprintf(
		"%s/answer_api?callback=%s%s&urlApiWs=%s&childMod=%s&session=%s&signature=%s&step=%d&answer=%s&frontaddr=%s&question_filter=%s",
		ep.BaseURL, callbackPrefix, hs.Nonce, ep.GameServer, c.childMod(), hs.ID, hs.Signature,
		step, a.wire(), hs.Frontaddr, c.questionFilter(),
	)
	return c.stepCall(ctx, u)
}

// Back откатывает один шаг. На step == 0 — локальный ErrCantGoBack,
// без похода в сеть.
func (c *Client) Back(ctx context.Context, hs Handshake, step int) (StepInfo, error) {
	if step == 0 {
		return StepInfo{}, ErrCantGoBack
	}
	ep := c.region.Endpoint()
	u := fmt.Sprintf(
		"%s/cancel_answer?callback=%s%s&childMod=%s&session=%s&signature=%s&step=%d&answer=-1&question_filter=%s",
		ep.GameServer, callbackPrefix, hs.Nonce, c.childMod(), hs.ID, hs.Signature,
		step, c.questionFilter(),
	)
	return c.stepCall(ctx, u)
}

// ListGuesses возвращает верхнего кандидата ranked-списка.
func (c *Client) ListGuesses(ctx context.Context, hs Handshake, step int) (Guess, error) {
	ep := c.region.Endpoint()
	u := fmt.Sprintf(
		"%s/list?callback=%s%s&childMod=%s&session=%s&signature=%s&step=%d",
		ep.GameServer, callbackPrefix, hs.Nonce, c.childMod(), hs.ID, hs.Signature, step,
	)

	params, err := c.call(ctx, u)
	if err != nil {
		return Guess{}, err
	}

	var payload struct {
		Elements []struct {
			Element Guess `json:"element"`
		} `json:"elements"`
	}
	if err := decodeParams(params, &payload); err != nil {
		return Guess{}, err
	}
	if len(payload.Elements) == 0 {
		return Guess{}, fmt.Errorf("%w: empty candidate list", ErrConnection)
	}
	return payload.Elements[0].Element, nil
}

// RefreshRegion переразрешает endpoint. Контроллер зовёт это после
// ErrServerDown, до следующего Start.
func (c *Client) RefreshRegion(ctx context.Context) error {
	if err := c.region.Resolve(ctx); err != nil {
		return err
	}
	ep := c.region.Endpoint()
	c.log.Info("akinator region resolved", "base", ep.BaseURL, "server", ep.GameServer)
	return nil
}

func (c *Client) fetchSessionInfo(ctx context.Context, ep Endpoint) (uid, frontaddr string, err error) {
	body, err := c.get(ctx, ep.BaseURL+"/game")
	if err != nil {
		return "", "", err
	}

	m := sessionInfoRegex.FindSubmatch(body)
	if m == nil {
		return "", "", fmt.Errorf("%w: uid/frontaddr not found in game page", ErrConnection)
	}
	return string(m[1]), string(m[2]), nil
}

// stepCall — общий путь для операций, возвращающих {step, progression, question}.
func (c *Client) stepCall(ctx context.Context, u string) (StepInfo, error) {
	params, err := c.call(ctx, u)
	if err != nil {
		return StepInfo{}, err
	}

	var ws wireStep
	if err := decodeParams(params, &ws); err != nil {
		return StepInfo{}, err
	}
	return ws.toStepInfo()
}

func (c *Client) call(ctx context.Context, u string) ([]byte, error) {
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	completion, params, err := parseJSONP(body)
	if err != nil {
		return nil, err
	}
	if completion != "OK" {
		return nil, classifyCompletion(completion)
	}
	return params, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrConnection, err)
	}
	for k, v := range requestHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrConnection, err)
	}
	return body, nil
}

// parseJSONP снимает jQuery-обёртку: jQuery..._123({...}).
// Тело с "KO - UNAUTHORIZED" приходит вообще не JSON-ом, поэтому
// проверяется до разбора.
func parseJSONP(body []byte) (completion string, params []byte, err error) {
	if bytes.Contains(body, []byte("KO - UNAUTHORIZED")) {
		return "KO - UNAUTHORIZED", nil, nil
	}

	start := bytes.IndexByte(body, '(')
	end := bytes.LastIndexByte(body, ')')
	if start < 0 || end < start {
		return "", nil, fmt.Errorf("%w: malformed jsonp response", ErrConnection)
	}
	inner := body[start+1 : end]

	var envelope struct {
		Completion string          `json:"completion"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := decodeParams(inner, &envelope); err != nil {
		return "", nil, err
	}
	return envelope.Completion, envelope.Parameters, nil
}

func decodeParams(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrConnection, err)
	}
	return nil
}

// wireStep — шаг как его отдаёт бэкенд: числа приходят строками
// ("step":"7"), в части ревизий — числами.
type wireStep struct {
	Question    string       `json:"question"`
	Progression numberString `json:"progression"`
	Step        numberString `json:"step"`
}

func (w wireStep) toStepInfo() (StepInfo, error) {
	step, err := w.Step.Int()
	if err != nil {
		return StepInfo{}, fmt.Errorf("%w: bad step: %v", ErrConnection, err)
	}
	prog, err := w.Progression.Float()
	if err != nil {
		return StepInfo{}, fmt.Errorf("%w: bad progression: %v", ErrConnection, err)
	}
	return StepInfo{Step: step, Progression: prog, Question: w.Question}, nil
}

type numberString string

func (n *numberString) UnmarshalJSON(b []byte) error {
	*n = numberString(strings.Trim(string(b), `"`))
	return nil
}

func (n numberString) Int() (int, error) {
	return strconv.Atoi(string(n))
}

func (n numberString) Float() (float64, error) {
	return strconv.ParseFloat(string(n), 64)
}
