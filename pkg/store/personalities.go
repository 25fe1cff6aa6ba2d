package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/choraleia/chatengine/pkg/db"
)

func (r *GormRepository) FindPersonality(ctx context.Context, hash string) (*db.Personality, error) {
	var p db.Personality
	if err := r.db.WithContext(ctx).First(&p, "hash = ?", hash).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// CreatePersonality inserts a new personality. A concurrent insert of the
// same hash surfaces as a unique constraint error; callers re-read on error.
func (r *GormRepository) CreatePersonality(ctx context.Context, hash, name, prompt string) (*db.Personality, error) {
	p := db.Personality{Hash: hash, Name: name, Prompt: prompt}
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, errors.Wrapf(err, "create personality %s", name)
	}
	return &p, nil
}
