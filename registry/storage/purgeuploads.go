package storage

import (
	"context"
	"time"
)

// PurgeStaleUploads discards upload sessions started before olderThan along with their staged
// bytes. Intended to run periodically; sessions abandoned mid-upload are otherwise never
// reclaimed. Returns the number of sessions purged.
func (m *UploadManager) PurgeStaleUploads(ctx context.Context, olderThan time.Time) (int, error) {
	stale, err := m.sessions.FindAllStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	for _, session := range stale {
		m.discard(ctx, session.ID)
	}

	return len(stale), nil
}
