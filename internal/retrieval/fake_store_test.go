package retrieval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/vdavid/vcode/internal/models"
)

// fakeStore is a scripted in-memory MailStore. Calls come from the session's worker
// goroutines, so everything is guarded by mu.
type fakeStore struct {
	mu sync.Mutex

	folders  []models.Folder
	messages map[string][]*fakeMessage
	current  string

	connectErr error
	openErr    map[string]error
	listErr    error
	fetchErrs  map[uint32]error
	fetchBlock chan struct{}

	searchBlock   chan struct{}
	// searchStarted, when set, receives once per blocked Search call.
	searchStarted chan struct{}
	searchDone    int
	searchCalls   []SearchCriteria

	opened        []string
	listCalls     int
	headerFetches int
	bodyFetches   []models.MessageID
	closeCalls    int
}

type fakeMessage struct {
	msg  models.Candidate
	read bool
}

func newFakeStore(folders ...string) *fakeStore {
	f := &fakeStore{
		messages:  make(map[string][]*fakeMessage),
		openErr:   make(map[string]error),
		fetchErrs: make(map[uint32]error),
	}
	for _, name := range folders {
		f.folders = append(f.folders, models.Folder{Name: name, Delimiter: "/"})
	}
	return f
}

func (f *fakeStore) deliver(folder string, msg models.Candidate, read bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = models.MessageID{Folder: folder, UID: msg.ID.UID}
	f.messages[folder] = append(f.messages[folder], &fakeMessage{msg: msg, read: read})
}

func (f *fakeStore) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeStore) ListFolders(ctx context.Context) ([]models.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Folder(nil), f.folders...), nil
}

func (f *fakeStore) OpenFolder(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[name]; err != nil {
		return err
	}
	f.opened = append(f.opened, name)
	f.current = name
	return nil
}

func (f *fakeStore) CloseFolder(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = ""
	return nil
}

func (f *fakeStore) Search(ctx context.Context, criteria SearchCriteria) ([]uint32, error) {
	f.mu.Lock()
	block, started := f.searchBlock, f.searchStarted
	f.mu.Unlock()
	if block != nil {
		if started != nil {
			started <- struct{}{}
		}
		// Ignores ctx, like a hung server.
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.searchDone++ }()
	f.searchCalls = append(f.searchCalls, criteria)

	var uids []uint32
	for _, m := range f.messages[f.current] {
		if m.msg.Date.Before(criteria.Since) {
			continue
		}
		if criteria.UnreadOnly && m.read {
			continue
		}
		uids = append(uids, m.msg.ID.UID)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return uids, nil
}

func (f *fakeStore) FetchHeaders(ctx context.Context, uids []uint32) ([]*models.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headerFetches++

	var out []*models.Candidate
	for _, uid := range uids {
		if m := f.find(uid); m != nil {
			c := m.msg
			c.BodyText, c.BodyHTML, c.HasBody = "", "", false
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeStore) FetchMessage(ctx context.Context, uid uint32) (*models.Candidate, error) {
	f.mu.Lock()
	f.bodyFetches = append(f.bodyFetches, models.MessageID{Folder: f.current, UID: uid})
	block := f.fetchBlock
	err := f.fetchErrs[uid]
	delete(f.fetchErrs, uid)
	m := f.find(uid)
	f.mu.Unlock()

	if block != nil {
		// Ignores ctx on purpose to behave like a hung server.
		<-block
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("no such message")
	}
	c := m.msg
	c.HasBody = true
	return &c, nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeStore) find(uid uint32) *fakeMessage {
	for _, m := range f.messages[f.current] {
		if m.msg.ID.UID == uid {
			return m
		}
	}
	return nil
}

type storeStats struct {
	opened        []string
	listCalls     int
	headerFetches int
	bodyFetches   []models.MessageID
	closeCalls    int
	searchCalls   []SearchCriteria
	searchDone    int
}

func (f *fakeStore) stats() storeStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return storeStats{
		opened:        append([]string(nil), f.opened...),
		listCalls:     f.listCalls,
		headerFetches: f.headerFetches,
		bodyFetches:   append([]models.MessageID(nil), f.bodyFetches...),
		closeCalls:    f.closeCalls,
		searchCalls:   append([]SearchCriteria(nil), f.searchCalls...),
		searchDone:    f.searchDone,
	}
}

// mockStore is a testify mock for cases that only care about which calls happen.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) ListFolders(ctx context.Context) ([]models.Folder, error) {
	args := m.Called(ctx)
	folders, _ := args.Get(0).([]models.Folder)
	return folders, args.Error(1)
}

func (m *mockStore) OpenFolder(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockStore) CloseFolder(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Search(ctx context.Context, criteria SearchCriteria) ([]uint32, error) {
	args := m.Called(ctx, criteria)
	uids, _ := args.Get(0).([]uint32)
	return uids, args.Error(1)
}

func (m *mockStore) FetchHeaders(ctx context.Context, uids []uint32) ([]*models.Candidate, error) {
	args := m.Called(ctx, uids)
	msgs, _ := args.Get(0).([]*models.Candidate)
	return msgs, args.Error(1)
}

func (m *mockStore) FetchMessage(ctx context.Context, uid uint32) (*models.Candidate, error) {
	args := m.Called(ctx, uid)
	msg, _ := args.Get(0).(*models.Candidate)
	return msg, args.Error(1)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

const testTarget = "dev.account@example.com"

func mail(uid uint32, to, subject, text string) models.Candidate {
	return models.Candidate{
		ID:       models.MessageID{UID: uid},
		Subject:  subject,
		From:     "Windsurf <no-reply@windsurf.com>",
		To:       to,
		Date:     time.Now(),
		BodyText: text,
	}
}

// recorder collects events. Observers run on the Run goroutine, which is the test goroutine.
type recorder struct {
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.events = append(r.events, e)
}

func (r *recorder) states() []State {
	out := make([]State, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.State)
	}
	return out
}

func (r *recorder) count(state State) int {
	n := 0
	for _, e := range r.events {
		if e.State == state {
			n++
		}
	}
	return n
}

func fastOptions(obs Observer) Options {
	return Options{
		Host:                "imap.example.com",
		Timeout:             2 * time.Second,
		PollInterval:        10 * time.Millisecond,
		FolderFallbackAfter: 60 * time.Millisecond,
		Observer:            obs,
	}
}
