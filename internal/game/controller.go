package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"example.com/aki-mvp/internal/akinator"
)

// RemoteClient — операции удалённого бэкенда, нужные контроллеру.
type RemoteClient interface {
	Start(ctx context.Context) (akinator.Handshake, akinator.StepInfo, error)
	Answer(ctx context.Context, hs akinator.Handshake, step int, a akinator.Answer) (akinator.StepInfo, error)
	Back(ctx context.Context, hs akinator.Handshake, step int) (akinator.StepInfo, error)
	ListGuesses(ctx context.Context, hs akinator.Handshake, step int) (akinator.Guess, error)
	RefreshRegion(ctx context.Context) error
}

type Outcome string

const (
	OutcomeWin     Outcome = "win"
	OutcomeDefeat  Outcome = "defeat"
	OutcomeRestart Outcome = "restart"
)

// StatsRecorder пишет исходы партий. Запись best-effort: её отказ
// не ломает ход.
type StatsRecorder interface {
	Record(ctx context.Context, key string, o Outcome) error
}

type EventKind int

const (
	EventStart EventKind = iota
	EventAnswer
	EventBack
	EventContinue
	EventRestart
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventAnswer:
		return "answer"
	case EventBack:
		return "back"
	case EventContinue:
		return "continue"
	case EventRestart:
		return "restart"
	default:
		return "unknown"
	}
}

func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "start":
		return EventStart, nil
	case "answer":
		return EventAnswer, nil
	case "back":
		return EventBack, nil
	case "continue":
		return EventContinue, nil
	case "restart":
		return EventRestart, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", s)
	}
}

// Event — одно входящее событие разговора.
type Event struct {
	Kind   EventKind
	Answer akinator.Answer // только для EventAnswer
}

// Result — что показать пользователю по итогам хода.
type Result struct {
	Text     string
	ImageURL string
}

// errTurnAbandoned — ретраи исчерпаны, ход бросаем и поднимаем свежую
// сессию вместо упавшей.
var errTurnAbandoned = errors.New("game: turn abandoned")

// Controller — машина состояний игры поверх RemoteClient и Store.
type Controller struct {
	client  RemoteClient
	store   Store
	stats   StatsRecorder // может быть nil
	rules   Rules
	texts   Texts
	backoff time.Duration
	locks   *keyedLocks
	log     *slog.Logger
}

func NewController(client RemoteClient, store Store, stats StatsRecorder, rules Rules, texts Texts, backoff time.Duration, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Controller{
		client:  client,
		store:   store,
		stats:   stats,
		rules:   rules,
		texts:   texts,
		backoff: backoff,
		locks:   newKeyedLocks(),
		log:     log,
	}
}

// HandleEvent обрабатывает одно событие разговора целиком: загрузка
// сессии, удалённый вызов, классификация исхода, сохранение. События
// одного ключа сериализованы.
func (c *Controller) HandleEvent(ctx context.Context, key string, ev Event) (Result, error) {
	unlock := c.locks.lock(key)
	released := false
	defer func() {
		if !released {
			unlock()
		}
	}()

	res, err := c.dispatch(ctx, key, ev)
	if errors.Is(err, errTurnAbandoned) {
		c.log.Warn("turn abandoned, replacing session", "key", key, "event", ev.Kind.String(), "err", err)

		// Лок отдаём до подъёма замены, чтобы не задедлочить
		// следующий ивент этого же разговора.
		unlock()
		released = true

		unlockNew := c.locks.lock(key)
		defer unlockNew()
		return c.startFresh(ctx, key, c.texts.AnswerError)
	}
	return res, err
}

func (c *Controller) dispatch(ctx context.Context, key string, ev Event) (Result, error) {
	switch ev.Kind {
	case EventAnswer:
		return c.handleAnswer(ctx, key, ev.Answer)
	case EventBack:
		return c.handleBack(ctx, key)
	case EventContinue:
		return c.handleContinue(ctx, key)
	case EventRestart:
		return c.handleRestart(ctx, key)
	default:
		return c.handleStart(ctx, key)
	}
}

// handleStart: создать если нет; заменить разыгранную; вернуть текущий
// вопрос без продвижения step, если игра идёт.
func (c *Controller) handleStart(ctx context.Context, key string) (Result, error) {
	s, found, err := c.store.Load(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return c.startFresh(ctx, key, "")
	}

	switch s.State {
	case StateWon:
		return c.startFresh(ctx, key, "")
	case StateDefeated:
		if s.CanContinue(c.rules) {
			s.State = StateActive
			if err := c.store.Save(ctx, key, s); err != nil {
				return Result{}, err
			}
			return Result{Text: c.texts.Question(s)}, nil
		}
		return c.startFresh(ctx, key, "")
	default:
		// идемпотентно: повторный Start не двигает step
		return Result{Text: c.texts.Question(s)}, nil
	}
}

func (c *Controller) handleAnswer(ctx context.Context, key string, ans akinator.Answer) (Result, error) {
	s, found, err := c.store.Load(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !found || s.resolved() {
		// нет незавершённой партии — поднимаем новую и показываем первый вопрос
		return c.startFresh(ctx, key, "")
	}

	var si akinator.StepInfo
	err = c.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		si, err = c.client.Answer(ctx, s.Remote, s.Step, ans)
		return err
	})
	if err != nil {
		return c.remoteFailure(ctx, key, &s, err)
	}

	s.applyStep(si)

	if s.Victory(c.rules) {
		return c.resolveGuess(ctx, key, s)
	}

	if s.DefeatedAt(c.rules) {
		s.State = StateDefeated
		if err := c.store.Save(ctx, key, s); err != nil {
			return Result{}, err
		}
		c.recordOutcome(ctx, key, OutcomeDefeat)
		return Result{Text: c.texts.Defeat(s.CanContinue(c.rules))}, nil
	}

	if err := c.store.Save(ctx, key, s); err != nil {
		return Result{}, err
	}
	return Result{Text: c.texts.Question(s)}, nil
}

func (c *Controller) handleBack(ctx context.Context, key string) (Result, error) {
	s, found, err := c.store.Load(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return c.startFresh(ctx, key, "")
	}

	var si akinator.StepInfo
	err = c.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		si, err = c.client.Back(ctx, s.Remote, s.Step)
		return err
	})
	if errors.Is(err, akinator.ErrCantGoBack) {
		// не ошибка: молча показываем текущий вопрос
		return Result{Text: c.texts.Question(s)}, nil
	}
	if err != nil {
		return c.remoteFailure(ctx, key, &s, err)
	}

	s.applyStep(si)
	s.State = StateActive // откат шага снимает развязку
	if err := c.store.Save(ctx, key, s); err != nil {
		return Result{}, err
	}
	return Result{Text: c.texts.Question(s)}, nil
}

// handleContinue: вернуться в разыгранную партию, если бюджет остался,
// иначе прозрачный рестарт.
func (c *Controller) handleContinue(ctx context.Context, key string) (Result, error) {
	s, found, err := c.store.Load(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return c.startFresh(ctx, key, "")
	}

	if s.resolved() {
		if s.CanContinue(c.rules) {
			s.State = StateActive
			if err := c.store.Save(ctx, key, s); err != nil {
				return Result{}, err
			}
			return Result{Text: c.texts.Question(s)}, nil
		}
		return c.startFresh(ctx, key, "")
	}
	return Result{Text: c.texts.Question(s)}, nil
}

func (c *Controller) handleRestart(ctx context.Context, key string) (Result, error) {
	_, found, err := c.store.Load(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if found {
		c.recordOutcome(ctx, key, OutcomeRestart)
	}
	return c.startFresh(ctx, key, "")
}

// resolveGuess — предикат победы сработал, спрашиваем кандидата.
func (c *Controller) resolveGuess(ctx context.Context, key string, s Session) (Result, error) {
	var g akinator.Guess
	err := c.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		g, err = c.client.ListGuesses(ctx, s.Remote, s.Step)
		return err
	})
	if err != nil {
		return c.remoteFailure(ctx, key, &s, err)
	}

	if g.Name != s.LastGuess {
		// настоящая новая догадка
		s.State = StateWon
		s.LastGuess = g.Name
		s.FirstGuess = &g
		if err := c.store.Save(ctx, key, s); err != nil {
			return Result{}, err
		}
		c.recordOutcome(ctx, key, OutcomeWin)
		return Result{Text: c.texts.Victory(g), ImageURL: g.ImageURL}, nil
	}

	// Бэкенд повторяет прежнего кандидата.
	if s.Progression >= c.rules.GuessCeiling {
		// выше уже не продвинемся: персонаж неугадываемый
		s.State = StateDefeated
		s.Exhausted = true
		if err := c.store.Save(ctx, key, s); err != nil {
			return Result{}, err
		}
		c.recordOutcome(ctx, key, OutcomeDefeat)
		return Result{Text: c.texts.Defeat(false)}, nil
	}

	if c.rules.RepeatGuess == RepeatReveal {
		s.State = StateWon
		s.FirstGuess = &g
		if err := c.store.Save(ctx, key, s); err != nil {
			return Result{}, err
		}
		return Result{Text: c.texts.Victory(g), ImageURL: g.ImageURL}, nil
	}

	// консервативный вариант: даём бэкенду дальше уточнять
	if err := c.store.Save(ctx, key, s); err != nil {
		return Result{}, err
	}
	return Result{Text: c.texts.Question(s)}, nil
}

// remoteFailure — единая карта "вид отказа -> действие". Сюда приходят
// только уже неретраибельные ошибки.
func (c *Controller) remoteFailure(ctx context.Context, key string, s *Session, err error) (Result, error) {
	switch {
	case errors.Is(err, akinator.ErrTimedOut):
		// удалённая сессия протухла: молча поднимаем новую
		return c.startFresh(ctx, key, c.texts.SessionExpired)

	case errors.Is(err, akinator.ErrNoQuestions):
		s.State = StateDefeated
		s.Exhausted = true
		if serr := c.store.Save(ctx, key, *s); serr != nil {
			return Result{}, serr
		}
		c.recordOutcome(ctx, key, OutcomeDefeat)
		return Result{Text: c.texts.Defeat(false)}, nil

	case errors.Is(err, akinator.ErrServerDown):
		// сессию не трогаем, только переразрешаем регион
		if rerr := c.client.RefreshRegion(ctx); rerr != nil {
			c.log.Warn("region refresh failed", "err", rerr)
		}
		return Result{Text: c.texts.ServerDown}, nil

	default:
		return Result{}, fmt.Errorf("%w: %w", errTurnAbandoned, err)
	}
}

// startFresh поднимает новую удалённую сессию и показывает её первый
// вопрос, с опциональным префиксом-пояснением.
func (c *Controller) startFresh(ctx context.Context, key, prefix string) (Result, error) {
	var hs akinator.Handshake
	var si akinator.StepInfo
	err := c.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		hs, si, err = c.client.Start(ctx)
		return err
	})
	if err != nil {
		return c.startFailure(ctx, err)
	}

	s := NewSession(hs, si)
	if err := c.store.Save(ctx, key, s); err != nil {
		return Result{}, err
	}
	return Result{Text: prefix + c.texts.Question(s)}, nil
}

// startFailure — свежая сессия не поднялась. Состояние не тронуто,
// пользователь может сразу повторить ввод.
func (c *Controller) startFailure(ctx context.Context, err error) (Result, error) {
	if errors.Is(err, akinator.ErrServerDown) {
		if rerr := c.client.RefreshRegion(ctx); rerr != nil {
			c.log.Warn("region refresh failed", "err", rerr)
		}
		return Result{Text: c.texts.ServerDown}, nil
	}
	c.log.Warn("session start failed", "err", err)
	return Result{Text: c.texts.AnswerError}, nil
}

// retryTransient: один повтор с фиксированной паузой для сбоев
// соединения/разбора, остальные ошибки уходят наверх сразу.
func (c *Controller) retryTransient(ctx context.Context, f func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(1, retry.NewConstant(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := f(ctx)
		if errors.Is(err, akinator.ErrConnection) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Controller) recordOutcome(ctx context.Context, key string, o Outcome) {
	if c.stats == nil {
		return
	}
	if err := c.stats.Record(ctx, key, o); err != nil {
		c.log.Warn("outcome not recorded", "key", key, "outcome", string(o), "err", err)
	}
}
