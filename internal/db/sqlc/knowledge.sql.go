package sqlc

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const listKnowledgeEntries = `-- name: ListKnowledgeEntries :many
SELECT id, title, content, position, active, updated_at
FROM knowledge_entries
WHERE active = TRUE
ORDER BY position ASC, title ASC
`

func (q *Queries) ListKnowledgeEntries(ctx context.Context) ([]KnowledgeEntry, error) {
	rows, err := q.db.Query(ctx, listKnowledgeEntries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []KnowledgeEntry
	for rows.Next() {
		var i KnowledgeEntry
		if err := rows.Scan(
			&i.ID,
			&i.Title,
			&i.Content,
			&i.Position,
			&i.Active,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listTrainingCorrections = `-- name: ListTrainingCorrections :many
SELECT id, question, corrected_answer, created_at
FROM training_corrections
ORDER BY created_at DESC
LIMIT $1
`

func (q *Queries) ListTrainingCorrections(ctx context.Context, limit int32) ([]TrainingCorrection, error) {
	rows, err := q.db.Query(ctx, listTrainingCorrections, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TrainingCorrection
	for rows.Next() {
		var i TrainingCorrection
		if err := rows.Scan(
			&i.ID,
			&i.Question,
			&i.CorrectedAnswer,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listActivePromotions = `-- name: ListActivePromotions :many
SELECT id, code, description, starts_at, ends_at, active
FROM promotions
WHERE active = TRUE
  AND (starts_at IS NULL OR starts_at <= $1)
  AND (ends_at IS NULL OR ends_at > $1)
ORDER BY code ASC
`

func (q *Queries) ListActivePromotions(ctx context.Context, now pgtype.Timestamptz) ([]Promotion, error) {
	rows, err := q.db.Query(ctx, listActivePromotions, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Promotion
	for rows.Next() {
		var i Promotion
		if err := rows.Scan(
			&i.ID,
			&i.Code,
			&i.Description,
			&i.StartsAt,
			&i.EndsAt,
			&i.Active,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
