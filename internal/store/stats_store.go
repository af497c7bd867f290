package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/aki-mvp/internal/game"
)

// GameStats — накопленные исходы партий одного разговора.
type GameStats struct {
	ConversationKey string
	Wins            int
	Defeats         int
	Restarts        int
	UpdatedAt       time.Time
}

type StatsStore struct {
	db *pgxpool.Pool
}

func NewStatsStore(db *pgxpool.Pool) *StatsStore {
	return &StatsStore{db: db}
}

// Record инкрементит счётчик исхода. Вызывается контроллером best-effort.
func (s *StatsStore) Record(ctx context.Context, key string, o game.Outcome) error {
	var col string
	switch o {
	case game.OutcomeWin:
		col = "wins"
	case game.OutcomeDefeat:
		col = "defeats"
	case game.OutcomeRestart:
		col = "restarts"
	default:
		return fmt.Errorf("stats: unknown outcome %q", o)
	}

	q := fmt.Sprintf(`
		INSERT INTO game_stats (conversation_key, %s, updated_at)
		VALUES ($1, 1, now())
		ON CONFLICT (conversation_key)
		DO UPDATE SET %s = game_stats.%s + 1, updated_at = now()
	`, col, col, col)

	_, err := s.db.Exec(ctx, q, key)
	return err
}

func (s *StatsStore) Get(ctx context.Context, key string) (GameStats, error) {
	var st GameStats
	err := s.db.QueryRow(ctx, `
		SELECT conversation_key, wins, defeats, restarts, updated_at
		FROM game_stats
		WHERE conversation_key=$1
	`, key).Scan(&st.ConversationKey, &st.Wins, &st.Defeats, &st.Restarts, &st.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// статистики ещё нет — считаем нулями
		return GameStats{ConversationKey: key}, nil
	}
	if err != nil {
		return GameStats{}, err
	}
	return st, nil
}
