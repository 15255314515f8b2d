package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const selectedModelKey = "ollama_model"

func (d *Database) GetSetting(ctx context.Context, key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, errors.New("setting key is empty")
	}

	query := "select value from settings where key = ?"

	var value string
	err := d.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("scan row: %w", err)
	}

	return value, true, nil
}

func (d *Database) PutSetting(ctx context.Context, key string, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("setting key is empty")
	}

	query := `insert into settings (key, value)
	values (?, ?)
	on conflict (key) do update
	set value = excluded.value,
	updated_at = current_timestamp`

	_, err := d.db.ExecContext(ctx, query, key, value)

	return err
}

// SelectedModel returns the last persisted model, if any.
func (d *Database) SelectedModel(ctx context.Context) (string, bool, error) {
	model, ok, err := d.GetSetting(ctx, selectedModelKey)
	if err != nil || !ok {
		return "", false, err
	}

	model = strings.TrimSpace(model)

	return model, model != "", nil
}

func (d *Database) SaveSelectedModel(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("model is empty")
	}

	return d.PutSetting(ctx, selectedModelKey, model)
}
