// Package integrations declares the external collaborators the core calls
// into (object storage, email, push) and the development implementations
// used when no provider is configured.
package integrations

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Upload is a pre-signed upload target.
type Upload struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// ObjectStorage issues upload/download URLs and manages stored objects.
type ObjectStorage interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error)
	SignedDownloadURL(ctx context.Context, key string) (string, error)
	SignedUploadURL(ctx context.Context, orgScope, name, contentType string) (Upload, error)
	CopyObject(ctx context.Context, srcKey, dstKey string) error
	DeleteObjects(ctx context.Context, keys []string) error
}

// Email is one outgoing transactional email.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// Push is one push notification.
type Push struct {
	ExternalUserID string
	Title          string
	Body           string
	URL            string
}

// Pusher dispatches push notifications.
type Pusher interface {
	Send(ctx context.Context, p Push) error
}

// MemoryStorage keeps objects in memory and hands out URLs under baseURL.
type MemoryStorage struct {
	baseURL string
	logger  *log.Logger

	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage(baseURL string, logger *log.Logger) *MemoryStorage {
	return &MemoryStorage{
		baseURL: baseURL,
		logger:  logger.With("component", "storage"),
		objects: make(map[string][]byte),
	}
}

func (s *MemoryStorage) url(key, op string) string {
	return s.baseURL + "/objects/" + url.PathEscape(key) + "?op=" + op + "&sig=" + uuid.NewString()
}

func (s *MemoryStorage) PutObject(_ context.Context, key string, body []byte, _ string) (string, error) {
	s.mu.Lock()
	s.objects[key] = append([]byte(nil), body...)
	s.mu.Unlock()
	return s.url(key, "get"), nil
}

func (s *MemoryStorage) SignedDownloadURL(_ context.Context, key string) (string, error) {
	return s.url(key, "get"), nil
}

func (s *MemoryStorage) SignedUploadURL(_ context.Context, orgScope, name, _ string) (Upload, error) {
	key := path.Join(orgScope, uuid.NewString(), path.Base(name))
	s.mu.Lock()
	s.objects[key] = nil
	s.mu.Unlock()
	return Upload{URL: s.url(key, "put"), Key: key}, nil
}

func (s *MemoryStorage) CopyObject(_ context.Context, srcKey, dstKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[srcKey]
	if !ok {
		return fmt.Errorf("object %q does not exist", srcKey)
	}
	s.objects[dstKey] = append([]byte(nil), body...)
	return nil
}

func (s *MemoryStorage) DeleteObjects(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	s.logger.Debug("deleted objects", "count", len(keys))
	return nil
}

// Has reports whether key is stored.
func (s *MemoryStorage) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// LogMailer logs emails instead of sending them.
type LogMailer struct {
	logger *log.Logger
}

// NewLogMailer returns a LogMailer.
func NewLogMailer(logger *log.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("component", "mailer")}
}

func (m *LogMailer) Send(_ context.Context, e Email) error {
	m.logger.Info("email", "to", e.To, "subject", e.Subject)
	return nil
}

// LogPusher logs push notifications instead of dispatching them.
type LogPusher struct {
	logger *log.Logger
}

// NewLogPusher returns a LogPusher.
func NewLogPusher(logger *log.Logger) *LogPusher {
	return &LogPusher{logger: logger.With("component", "push")}
}

func (p *LogPusher) Send(_ context.Context, n Push) error {
	p.logger.Info("push", "user", n.ExternalUserID, "title", n.Title)
	return nil
}
