package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach-service/pkg/errno"
	"outreach-service/pkg/logger"
)

// StagingKind 暂存文件类型
type StagingKind string

const (
	StagingSpreadsheet StagingKind = "spreadsheet"
	StagingOverlay     StagingKind = "overlay"
)

// StagingSession holds one user's uploads until they are turned into a job.
type StagingSession struct {
	Token           string
	UserID          string
	Dir             string
	SpreadsheetPath string
	OverlayPath     string
	CreatedAt       time.Time
}

// Complete reports whether both inputs were uploaded.
func (s StagingSession) Complete() bool {
	return s.SpreadsheetPath != "" && s.OverlayPath != ""
}

// StagingStore keeps upload sessions keyed by token. Sessions never share files.
type StagingStore struct {
	mu       sync.Mutex
	sessions map[string]*StagingSession
	root     string
	ttl      time.Duration
	now      func() time.Time
}

func NewStagingStore(root string, ttl time.Duration) *StagingStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StagingStore{sessions: make(map[string]*StagingSession), root: root, ttl: ttl, now: time.Now}
}

// Create opens a new session directory for userID.
func (s *StagingStore) Create(userID string) (StagingSession, error) {
	if strings.TrimSpace(userID) == "" {
		return StagingSession{}, errno.ErrMissingParam.WithMessage("user id")
	}
	token := uuid.NewString()
	dir := filepath.Join(s.root, token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StagingSession{}, fmt.Errorf("create staging dir: %w", err)
	}
	sess := &StagingSession{Token: token, UserID: userID, Dir: dir, CreatedAt: s.now()}
	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()
	return *sess, nil
}

// Attach stores an uploaded file in the session, replacing an earlier upload of the same kind.
func (s *StagingStore) Attach(token, userID string, kind StagingKind, filename string, r io.Reader) (StagingSession, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return StagingSession{}, errno.ErrFileNameIllegal
	}
	if kind != StagingSpreadsheet && kind != StagingOverlay {
		return StagingSession{}, errno.ErrInvalidParam.WithMessage("unknown staging kind %q", kind)
	}
	if kind == StagingSpreadsheet && !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return StagingSession{}, errno.ErrFileNameIllegal.WithMessage("spreadsheet must be .xlsx")
	}

	s.mu.Lock()
	sess, err := s.lookupLocked(token, userID)
	s.mu.Unlock()
	if err != nil {
		return StagingSession{}, err
	}

	dst := filepath.Join(sess.Dir, string(kind)+"_"+name)
	f, err := os.Create(dst)
	if err != nil {
		return StagingSession{}, errno.ErrUploadError.WithCause(err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return StagingSession{}, errno.ErrUploadError.WithCause(err)
	}
	if err := f.Close(); err != nil {
		return StagingSession{}, errno.ErrUploadError.WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err = s.lookupLocked(token, userID)
	if err != nil {
		_ = os.Remove(dst)
		return StagingSession{}, err
	}
	var previous string
	switch kind {
	case StagingSpreadsheet:
		previous, sess.SpreadsheetPath = sess.SpreadsheetPath, dst
	case StagingOverlay:
		previous, sess.OverlayPath = sess.OverlayPath, dst
	}
	if previous != "" && previous != dst {
		_ = os.Remove(previous)
	}
	return *sess, nil
}

// Take removes a complete session from the store and hands its files to the caller.
func (s *StagingStore) Take(token, userID string) (StagingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.lookupLocked(token, userID)
	if err != nil {
		return StagingSession{}, err
	}
	if !sess.Complete() {
		return StagingSession{}, errno.ErrStagingIncomplete
	}
	delete(s.sessions, token)
	return *sess, nil
}

// Sweep drops sessions older than the ttl together with their files.
func (s *StagingStore) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	var expired []*StagingSession
	s.mu.Lock()
	for token, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, token)
		}
	}
	s.mu.Unlock()
	for _, sess := range expired {
		if err := os.RemoveAll(sess.Dir); err != nil {
			logger.Warnf("Remove expired staging dir failed dir=%s error=%v", sess.Dir, err)
		}
	}
	return len(expired)
}

func (s *StagingStore) lookupLocked(token, userID string) (*StagingSession, error) {
	sess, ok := s.sessions[token]
	if !ok || sess.UserID != userID {
		return nil, errno.ErrStagingNotFound
	}
	if s.now().Sub(sess.CreatedAt) > s.ttl {
		return nil, errno.ErrStagingNotFound
	}
	return sess, nil
}
