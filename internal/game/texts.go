package game

import (
	"fmt"

	"example.com/aki-mvp/internal/akinator"
)

const answersMenu = "1) Да\n" +
	"2) Нет\n" +
	"3) Не знаю\n" +
	"4) Возможно, частично\n" +
	"5) Скорее нет, не совсем\n\n" +
	"6) Назад\n" +
	"7) Начать заново"

// Texts — пользовательские тексты. Поля с Tpl — fmt-шаблоны.
type Texts struct {
	QuestionTpl string // step, progression, question
	VictoryTpl  string // name, description

	Defeated         string
	DefeatedContinue string

	SessionExpired string
	ServerDown     string
	AnswerError    string
}

func DefaultTexts() Texts {
	return Texts{
		QuestionTpl: "Вопрос №%d\n" +
			"Прогресс: %.2f%%\n" +
			"➖➖➖➖➖\n" +
			"%s\n" +
			"➖➖➖➖➖\n" +
			answersMenu,
		VictoryTpl: "Я думаю... Это:\n" +
			"%s (%s)\n\n" +
			"6) Назад\n" +
			"7) Начать заново\n" +
			"8) Неправильно, продолжить",
		Defeated:         "Ты победил, я принимаю поражение 🤕\n7) Начать заново",
		DefeatedContinue: "Ты победил, я принимаю поражение 🤕\n7) Начать заново\n8) Продолжить",
		SessionExpired:   "Тебя слишком долго не было, и я забыл твои ответы 😞\n",
		ServerDown:       "Бот приболел и ему нужно немного отдохнуть 🤒\n",
		AnswerError:      "Произошла ошибка, попробуй ещё раз 🤒\n",
	}
}

// Question — текст текущего шага. Номер вопроса для человека — step+1.
func (t Texts) Question(s Session) string {
	return fmt.Sprintf(t.QuestionTpl, s.Step+1, s.Progression, s.Question)
}

func (t Texts) Victory(g akinator.Guess) string {
	return fmt.Sprintf(t.VictoryTpl, g.Name, g.Description)
}

func (t Texts) Defeat(canContinue bool) string {
	if canContinue {
		return t.DefeatedContinue
	}
	return t.Defeated
}
