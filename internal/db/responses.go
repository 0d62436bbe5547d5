package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Response is one collected AI answer for a tracked prompt
type Response struct {
	ID             string
	RunID          string
	PromptID       int
	Source         string
	Answer         string
	BrandMentioned bool
	BrandCited     bool
	Position       int // 1-based rank of the brand within the answer, 0 if absent
	Sentiment      float64
	CostUSD        float64
	CreatedAt      time.Time
}

// InsertResponses batch-inserts collected responses in one statement
func (db *DB) InsertResponses(ctx context.Context, responses []*Response) error {
	if len(responses) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(responses))
	valueArgs := make([]interface{}, 0, len(responses)*10)

	paramIndex := 1
	now := time.Now().UTC()
	for _, resp := range responses {
		if resp.CreatedAt.IsZero() {
			resp.CreatedAt = now
		}

		placeholders := fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			paramIndex, paramIndex+1, paramIndex+2, paramIndex+3, paramIndex+4,
			paramIndex+5, paramIndex+6, paramIndex+7, paramIndex+8, paramIndex+9)
		valueStrings = append(valueStrings, placeholders)
		paramIndex += 10

		valueArgs = append(valueArgs,
			resp.ID, resp.RunID, resp.PromptID, resp.Source, resp.Answer,
			resp.BrandMentioned, resp.BrandCited, resp.Position, resp.Sentiment, resp.CreatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO responses
		(id, run_id, prompt_id, source, answer, brand_mentioned, brand_cited, position, sentiment, created_at)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	result, err := db.client.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		log.Error().Err(err).Int("count", len(responses)).Msg("Failed to batch insert responses")
		return fmt.Errorf("failed to batch insert responses: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	log.Debug().Int64("rows_affected", rowsAffected).Msg("Batch inserted responses")

	return nil
}

// SentimentStats aggregates sentiment for one calendar month
type SentimentStats struct {
	Month         string // YYYY-MM
	Responses     int
	Mentions      int
	Citations     int
	AvgSentiment  float64
	PositiveShare float64 // fraction of mentioned responses with sentiment > 0.1
	NegativeShare float64 // fraction of mentioned responses with sentiment < -0.1
	MentionRate   float64
	BySource      map[string]int
}

// GetSentimentStats computes the monthly sentiment aggregate backing the
// sentiment stats command. month is "YYYY-MM".
func (db *DB) GetSentimentStats(ctx context.Context, accountID, month string) (*SentimentStats, error) {
	monthStart, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q, expected YYYY-MM: %w", month, err)
	}
	monthEnd := monthStart.AddDate(0, 1, 0)

	stats := &SentimentStats{Month: month, BySource: make(map[string]int)}

	var avgSentiment sql.NullFloat64
	var positive, negative int
	err = db.client.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE resp.brand_mentioned),
		       COUNT(*) FILTER (WHERE resp.brand_cited),
		       AVG(resp.sentiment) FILTER (WHERE resp.brand_mentioned),
		       COUNT(*) FILTER (WHERE resp.brand_mentioned AND resp.sentiment > 0.1),
		       COUNT(*) FILTER (WHERE resp.brand_mentioned AND resp.sentiment < -0.1)
		FROM responses resp
		JOIN runs r ON resp.run_id = r.id
		WHERE r.account_id = $1
		  AND resp.created_at >= $2
		  AND resp.created_at < $3
	`, accountID, monthStart, monthEnd).Scan(
		&stats.Responses, &stats.Mentions, &stats.Citations,
		&avgSentiment, &positive, &negative,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sentiment stats: %w", err)
	}

	if avgSentiment.Valid {
		stats.AvgSentiment = avgSentiment.Float64
	}
	if stats.Mentions > 0 {
		stats.PositiveShare = float64(positive) / float64(stats.Mentions)
		stats.NegativeShare = float64(negative) / float64(stats.Mentions)
	}
	if stats.Responses > 0 {
		stats.MentionRate = float64(stats.Mentions) / float64(stats.Responses)
	}

	rows, err := db.client.QueryContext(ctx, `
		SELECT r.source, COUNT(*)
		FROM responses resp
		JOIN runs r ON resp.run_id = r.id
		WHERE r.account_id = $1
		  AND resp.created_at >= $2
		  AND resp.created_at < $3
		GROUP BY r.source
	`, accountID, monthStart, monthEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query per-source counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		stats.BySource[source] = count
	}

	return stats, rows.Err()
}
