package game

import (
	"time"

	"example.com/aki-mvp/internal/akinator"
)

// State — явное перечисление вместо рыхлых флагов is_started/is_ended/is_defeated.
type State int

const (
	StateActive State = iota
	StateWon
	StateDefeated
)

// Session — сериализуемое состояние одной игры. Одна на разговор,
// мутируется только контроллером, по одному событию за раз.
type Session struct {
	Remote akinator.Handshake `json:"remote"`

	Step        int     `json:"step"`
	Progression float64 `json:"progression"`
	Question    string  `json:"question"`

	State State `json:"state"`

	// Exhausted — бюджета продолжения больше нет (пул вопросов кончился),
	// независимо от числа шагов.
	Exhausted bool `json:"exhausted,omitempty"`

	// LastGuess — имя последнего показанного кандидата,
	// по нему ловим повтор той же догадки.
	LastGuess  string          `json:"lastGuess"`
	FirstGuess *akinator.Guess `json:"firstGuess,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewSession собирает сессию из успешного Start.
func NewSession(hs akinator.Handshake, si akinator.StepInfo) Session {
	return Session{
		Remote:      hs,
		Step:        si.Step,
		Progression: si.Progression,
		Question:    si.Question,
		State:       StateActive,
		CreatedAt:   time.Now().UTC(),
	}
}

// applyStep обновляет прогресс из успешного удалённого ответа.
// Неуспешный вызов сессию не трогает вовсе.
func (s *Session) applyStep(si akinator.StepInfo) {
	s.Step = si.Step
	s.Progression = si.Progression
	s.Question = si.Question
}

func (s *Session) resolved() bool {
	return s.State != StateActive
}

// RepeatGuessPolicy — что делать, если бэкенд повторил ту же догадку,
// а бюджет продолжения ещё не исчерпан.
type RepeatGuessPolicy string

const (
	// RepeatContinue — продолжать задавать вопросы (консервативный вариант).
	RepeatContinue RepeatGuessPolicy = "continue"
	// RepeatReveal — показать догадку ещё раз.
	RepeatReveal RepeatGuessPolicy = "reveal"
)

// Rules — пороги победы/поражения. Значения приходят из конфигурации,
// в коде контроллера констант нет.
type Rules struct {
	SureVictory          float64
	UnsureVictory        float64
	MinStepUnsureVictory int

	DefeatProgression float64
	CheckpointSteps   []int

	MaxSteps     int
	GuessCeiling float64

	RepeatGuess RepeatGuessPolicy
}

func DefaultRules() Rules {
	return Rules{
		SureVictory:          90,
		UnsureVictory:        85,
		MinStepUnsureVictory: 25,
		DefeatProgression:    60,
		CheckpointSteps:      []int{40, 60},
		MaxSteps:             80,
		GuessCeiling:         99,
		RepeatGuess:          RepeatContinue,
	}
}

// Victory: уверенная победа по одному порогу, неуверенная — по второму
// порогу плюс минимальному числу шагов.
func (s *Session) Victory(r Rules) bool {
	if s.Progression >= r.SureVictory {
		return true
	}
	return s.Progression >= r.UnsureVictory && s.Step >= r.MinStepUnsureVictory
}

// DefeatedAt: поражение только точно на контрольном шаге при низком прогрессе.
func (s *Session) DefeatedAt(r Rules) bool {
	for _, cp := range r.CheckpointSteps {
		if s.Step == cp && s.Progression < r.DefeatProgression {
			return true
		}
	}
	return false
}

// CanContinue — остался ли бюджет продолжения.
func (s *Session) CanContinue(r Rules) bool {
	return !s.Exhausted && s.Step < r.MaxSteps
}
