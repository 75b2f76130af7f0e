package database

import (
	"errors"

	"github.com/jo-hoe/gallerystore/internal/backend/failure"
)

func init() {
	failure.RegisterClassifier(classify)
}

func classify(err error) (failure.Code, bool) {
	switch {
	case errors.Is(err, ErrIDCollision):
		return failure.CodeIDDesync, true
	case errors.Is(err, ErrNotFound):
		return failure.CodeNotFound, true
	case isPostgresRetryable(err), isSQLiteBusy(err):
		return failure.CodeRetryable, true
	}
	return "", false
}
