package api

import "context"

// TableFor returns the table storing rows of type T.
func TableFor[T Content]() string {
	var zero T
	return zero.Table()
}

// ListContent returns a profile's generated rows of type T, newest first.
func ListContent[T Content](ctx context.Context, b *Backend, profileID string) ([]T, error) {
	var rows []T
	err := b.From(TableFor[T]()).
		Select("*").
		Eq("profile_id", profileID).
		Order("created_at", true).
		Execute(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetContent returns one generated row.
func GetContent[T Content](ctx context.Context, b *Backend, id string) (T, error) {
	var row T
	err := b.From(TableFor[T]()).Select("*").Eq("id", id).Single().Execute(ctx, &row)
	return row, err
}

// CreateContent inserts a generation request row, normally in pending state.
func CreateContent[T Content](ctx context.Context, b *Backend, row T) (T, error) {
	var created T
	err := b.From(TableFor[T]()).Single().Insert(ctx, row, &created)
	return created, err
}

// DeleteContent removes a generated row.
func DeleteContent[T Content](ctx context.Context, b *Backend, id string) error {
	return b.From(TableFor[T]()).Eq("id", id).Delete(ctx)
}
