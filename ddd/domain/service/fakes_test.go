package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
)

type fakeRecorder struct {
	mu       sync.Mutex
	fail     map[string]bool
	calls    []string
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	onRecord func(url string)
}

func (r *fakeRecorder) Record(ctx context.Context, url, outputDir string) (string, error) {
	cur := atomic.AddInt32(&r.inFlight, 1)
	defer atomic.AddInt32(&r.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&r.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&r.maxSeen, seen, cur) {
			break
		}
	}
	r.mu.Lock()
	r.calls = append(r.calls, url)
	hook := r.onRecord
	r.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail[url] {
		return "", errors.New("navigation timeout")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(outputDir, "web_*.mp4")
	if err != nil {
		return "", err
	}
	_, _ = f.WriteString("recording " + url)
	_ = f.Close()
	return f.Name(), nil
}

func (r *fakeRecorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeMerger struct {
	failBase map[string]bool
	mu       sync.Mutex
	filters  []string
}

func (m *fakeMerger) Merge(ctx context.Context, basePath, overlayPath, outputPath string, placement vo.CameraPlacement) error {
	m.mu.Lock()
	m.filters = append(m.filters, placement.OverlayFilter())
	m.mu.Unlock()
	body, err := os.ReadFile(basePath)
	if err != nil {
		return err
	}
	for url := range m.failBase {
		if string(body) == "recording "+url {
			return errors.New("ffmpeg exited with status 1")
		}
	}
	return os.WriteFile(outputPath, body, 0o644)
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]string
	failKey func(key string) bool
}

func newFakeStorage() *fakeStorage { return &fakeStorage{objects: map[string]string{}} }

func (s *fakeStorage) UploadArtifact(ctx context.Context, localPath, objectKey, contentType string) (string, error) {
	if s.failKey != nil && s.failKey(objectKey) {
		return "", errors.New("bucket unavailable")
	}
	body, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[objectKey] = string(body)
	s.mu.Unlock()
	return "https://cdn.test/" + objectKey, nil
}

type fakeParser struct {
	rows []entity.Row
	err  error
}

func (p *fakeParser) ParseRows(ctx context.Context, path string) ([]entity.Row, error) {
	return p.rows, p.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(ctx context.Context, userID, message string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, message)
	n.mu.Unlock()
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	failTo map[string]bool
}

func (s *fakeSender) Send(ctx context.Context, account *entity.MailAccount, msg gateway.MailMessage) error {
	if s.failTo[msg.To] {
		return errors.New("mailbox unavailable")
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg.To)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type fakeComposer struct{}

func (fakeComposer) Compose(ctx context.Context, account *entity.MailAccount, a entity.ArtifactRecord) (gateway.MailMessage, error) {
	return gateway.MailMessage{To: a.Row.RecipientEmail, Subject: "Hi " + a.Row.RecipientName, HTMLBody: a.RemoteURL}, nil
}

// memLedger implements the profile, counter, stats, account, dispatch and artifact repositories in memory.
type memLedger struct {
	mu        sync.Mutex
	profiles  map[string]*entity.UserProfile
	counters  map[string]*entity.EmailSendCounter
	accounts  map[string][]*entity.MailAccount
	stats     map[string][2]int
	artifacts map[string]entity.ArtifactRecord
	commits   map[string]bool
	sent      map[string]map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		profiles:  map[string]*entity.UserProfile{},
		counters:  map[string]*entity.EmailSendCounter{},
		accounts:  map[string][]*entity.MailAccount{},
		stats:     map[string][2]int{},
		artifacts: map[string]entity.ArtifactRecord{},
		commits:   map[string]bool{},
		sent:      map[string]map[string]bool{},
	}
}

func (m *memLedger) addUser(userID, plan string, consumed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = &entity.UserProfile{QuotaState: entity.QuotaState{UserID: userID, PlanTier: plan, ConsumedVideoCount: consumed}}
}

func (m *memLedger) addAccount(a *entity.MailAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.UserID] = append(m.accounts[a.UserID], a)
}

func (m *memLedger) consumed(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[userID].ConsumedVideoCount
}

func (m *memLedger) GetProfile(ctx context.Context, userID string) (*entity.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, errno.ErrUserNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memLedger) CommitJobVideos(ctx context.Context, userID, jobID string, n, ceiling int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return false, errno.ErrUserNotFound
	}
	key := userID + "|" + jobID
	if m.commits[key] {
		return false, nil
	}
	m.commits[key] = true
	if p.ConsumedVideoCount >= ceiling {
		return true, nil
	}
	p.ConsumedVideoCount += n
	if p.ConsumedVideoCount > ceiling {
		p.ConsumedVideoCount = ceiling
	}
	return true, nil
}

func (m *memLedger) SentTargets(ctx context.Context, jobID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for url := range m.sent[jobID] {
		out[url] = true
	}
	return out, nil
}

func (m *memLedger) MarkSent(ctx context.Context, userID, jobID, targetURL, recipient string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent[jobID] == nil {
		m.sent[jobID] = map[string]bool{}
	}
	m.sent[jobID][targetURL] = true
	return nil
}

func (m *memLedger) EnsureCounter(ctx context.Context, accountID, today string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[accountID]; !ok {
		m.counters[accountID] = &entity.EmailSendCounter{AccountID: accountID, WindowStartDate: today}
	}
	return nil
}

func (m *memLedger) RollWindow(ctx context.Context, accountID, today string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[accountID]
	if c.WindowStartDate >= today {
		return false, nil
	}
	if c.SentToday > 0 {
		c.TotalDaysWithSends++
	}
	c.SentToday = 0
	c.WindowStartDate = today
	return true, nil
}

func (m *memLedger) GetCounter(ctx context.Context, accountID string) (*entity.EmailSendCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[accountID]
	if !ok {
		return nil, fmt.Errorf("counter %s missing", accountID)
	}
	cp := *c
	return &cp, nil
}

func (m *memLedger) TryIncrement(ctx context.Context, accountID string, ceiling int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[accountID]
	if c.SentToday >= ceiling {
		return false, nil
	}
	c.SentToday++
	return true, nil
}

func (m *memLedger) Decrement(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.counters[accountID]; c.SentToday > 0 {
		c.SentToday--
	}
	return nil
}

func (m *memLedger) RecordOutcome(ctx context.Context, userID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[userID]
	if success {
		s[0]++
	} else {
		s[1]++
	}
	m.stats[userID] = s
	return nil
}

func (m *memLedger) ListByUser(ctx context.Context, userID string) ([]*entity.MailAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.MailAccount(nil), m.accounts[userID]...), nil
}

func (m *memLedger) UpsertArtifacts(ctx context.Context, userID, jobID string, records []entity.ArtifactRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.artifacts[userID+"|"+jobID+"|"+r.Row.TargetURL] = r
	}
	return nil
}

func (m *memLedger) artifactCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.artifacts)
}

// memArtifacts exposes the artifact view of memLedger; its ListByUser shadows the account one.
type memArtifacts struct{ *memLedger }

func (a memArtifacts) ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.ArtifactRecord, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []entity.ArtifactRecord
	for _, r := range a.artifacts {
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

func rowsFor(n int) []entity.Row {
	rows := make([]entity.Row, n)
	for i := range rows {
		rows[i] = entity.Row{
			TargetURL:      fmt.Sprintf("https://site%d.test", i+1),
			RecipientEmail: fmt.Sprintf("owner%d@site%d.test", i+1, i+1),
			RecipientName:  fmt.Sprintf("Owner %d", i+1),
		}
	}
	return rows
}

func writeOverlay(dir string) string {
	p := filepath.Join(dir, "cam.mp4")
	_ = os.WriteFile(p, []byte("camera"), 0o644)
	return p
}

func fixedClock(day string) func() time.Time {
	t, _ := time.Parse("2006-01-02", day)
	return func() time.Time { return t.Add(12 * time.Hour) }
}
