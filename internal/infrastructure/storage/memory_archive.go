package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryReportArchive keeps reports in process. Used when object storage is
// disabled and in tests; the download URL points at BaseURL.
type MemoryReportArchive struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]storedObject
}

type storedObject struct {
	data        []byte
	contentType string
}

func NewMemoryReportArchive() *MemoryReportArchive {
	return &MemoryReportArchive{
		BaseURL: "memory://reports",
		objects: make(map[string]storedObject),
	}
}

func (a *MemoryReportArchive) Put(_ context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return ErrKeyRequired
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	a.mu.Lock()
	a.objects[key] = storedObject{data: buf, contentType: contentType}
	a.mu.Unlock()
	return nil
}

func (a *MemoryReportArchive) DownloadURL(_ context.Context, key string) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, ErrKeyRequired
	}
	return a.BaseURL + "/" + key, time.Now().Add(15 * time.Minute), nil
}

// Get returns a stored report and its content type
func (a *MemoryReportArchive) Get(key string) ([]byte, string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.objects[key]
	return o.data, o.contentType, ok
}
