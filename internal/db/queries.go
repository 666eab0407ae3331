package db

import (
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
)

// Recipe is one stored generation result.
type Recipe struct {
	ID        string
	SourceURL string
	Caption   string
	Markdown  string
	Model     string
	CreatedAt int64 // Unix seconds
}

// NewID generates a ULID for a recipe row.
func NewID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Insert stores a generated recipe.
func Insert(database *sql.DB, r *Recipe) error {
	query := `
		INSERT INTO recipes (id, source_url, caption, markdown, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := database.Exec(query, r.ID, r.SourceURL, toNullString(r.Caption), r.Markdown, r.Model, r.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetByID retrieves one recipe by its ULID.
func GetByID(database *sql.DB, id string) (*Recipe, error) {
	query := `
		SELECT id, source_url, caption, markdown, model, created_at
		FROM recipes
		WHERE id = ?
	`
	r, err := scanRecipe(database.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListRecent returns up to limit recipes, newest first.
func ListRecent(database *sql.DB, limit int) ([]*Recipe, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, source_url, caption, markdown, model, created_at
		FROM recipes
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := database.Query(query, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var recipes []*Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		recipes = append(recipes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return recipes, nil
}

// Delete removes one recipe by id.
func Delete(database *sql.DB, id string) error {
	result, err := database.Exec(`DELETE FROM recipes WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecipe.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecipe(s scanner) (*Recipe, error) {
	var r Recipe
	var caption sql.NullString
	if err := s.Scan(&r.ID, &r.SourceURL, &caption, &r.Markdown, &r.Model, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Caption = caption.String
	return &r, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
