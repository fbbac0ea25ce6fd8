package mtproto

import (
	"context"

	"tg-checkin-bot/internal/domain"
)

// blobStorage адаптирует репозиторий блобов под session.Storage gotd для
// одной учётной записи.
type blobStorage struct {
	repo domain.SessionBlobRepo
	name string
}

// LoadSession загружает блоб сессии.
func (s *blobStorage) LoadSession(ctx context.Context) ([]byte, error) {
	return s.repo.LoadSessionBlob(ctx, s.name)
}

// StoreSession сохраняет блоб сессии.
func (s *blobStorage) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreSessionBlob(ctx, s.name, data)
}
