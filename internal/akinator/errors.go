package akinator

import (
	"errors"
	"fmt"
)

// Закрытая таксономия ошибок бэкенда. Никто кроме этого пакета
// не смотрит на сырые completion-коды.
var (
	ErrServerDown  = errors.New("akinator: server down")
	ErrTimedOut    = errors.New("akinator: session timed out")
	ErrNoQuestions = errors.New("akinator: no questions left")
	ErrConnection  = errors.New("akinator: connection failure")

	// ErrCantGoBack — локальный сигнал (step == 0), не сетевая ошибка.
	ErrCantGoBack = errors.New("akinator: cant go back any further")
)

// classifyCompletion — единственное место, где completion-код
// превращается в семантическую ошибку.
func classifyCompletion(code string) error {
	switch code {
	case "KO - SERVER DOWN":
		return ErrServerDown
	case "KO - TIMEOUT", "KO - UNAUTHORIZED":
		return ErrTimedOut
	case "KO - ELEM LIST IS EMPTY", "WARN - NO QUESTION":
		return ErrNoQuestions
	default:
		return fmt.Errorf("%w: completion %q", ErrConnection, code)
	}
}
