package handle

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/history"
	"github.com/Martinhdeez/plane-assistant/api/internal/steps"
	"github.com/Martinhdeez/plane-assistant/api/internal/store"
)

// memDB backs every store interface with slices guarded by one mutex.
type memDB struct {
	mu          sync.Mutex
	seq         int64
	users       []store.User
	assignments map[int64][]int64
	chats       []store.Chat
	msgs        []store.Message
	steps       []steps.Step
	hists       []history.Record
	pingErr     error
}

func newMemDB() *memDB { return &memDB{assignments: map[int64][]int64{}} }

func (m *memDB) next() int64 { m.seq++; return m.seq }

func (m *memDB) PingContext(context.Context) error { return m.pingErr }

type memUsers struct{ *memDB }

func (m memUsers) Create(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.taken(u); err != nil {
		return err
	}
	u.ID, u.CreatedAt = m.next(), time.Now()
	m.users = append(m.users, *u)
	return nil
}

func (m memUsers) taken(u *store.User) error {
	for _, x := range m.users {
		switch {
		case x.ID == u.ID:
		case x.Email == u.Email:
			return store.ErrEmailTaken
		case x.Username == u.Username:
			return store.ErrUsernameTaken
		}
	}
	return nil
}

func (m memUsers) edit(id int64, fn func(*store.User) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].ID == id {
			return fn(&m.users[i])
		}
	}
	return store.ErrNotFound
}

func (m memUsers) Update(_ context.Context, u *store.User) error {
	return m.edit(u.ID, func(dst *store.User) error {
		if err := m.taken(u); err != nil {
			return err
		}
		dst.Username, dst.Email, dst.Role = u.Username, u.Email, u.Role
		dst.Division, dst.IsActive = u.Division, u.IsActive
		return nil
	})
}

func (m memUsers) SetPassword(_ context.Context, id int64, hash string) error {
	return m.edit(id, func(u *store.User) error { u.PasswordHash = hash; return nil })
}

func (m memUsers) SetActive(_ context.Context, id int64, active bool) error {
	return m.edit(id, func(u *store.User) error { u.IsActive = active; return nil })
}

func (m memUsers) Divisions(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for _, u := range m.users {
		if u.Division != nil && *u.Division != "" && !slices.Contains(out, *u.Division) {
			out = append(out, *u.Division)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (m memUsers) Get(_ context.Context, id int64) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m memUsers) GetByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m memUsers) AdminExists(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.ContainsFunc(m.users, func(u store.User) bool { return u.Role == "administrador" }), nil
}

func (m memUsers) List(_ context.Context, role string) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.User{}
	for _, u := range m.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m memUsers) SetAssignments(_ context.Context, clerkID int64, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[clerkID] = slices.Clone(ids)
	return nil
}

func (m memUsers) AssignedOperators(ctx context.Context, clerkID int64) ([]store.User, error) {
	m.mu.Lock()
	ids := slices.Clone(m.assignments[clerkID])
	m.mu.Unlock()
	out := []store.User{}
	for _, id := range ids {
		if u, err := m.Get(ctx, id); err == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

type memChats struct{ *memDB }

func (m memChats) Create(_ context.Context, c *store.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID, c.CreatedAt = m.next(), time.Now()
	m.chats = append(m.chats, *c)
	return nil
}

func (m memChats) Get(_ context.Context, userID, id int64) (store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		if c.ID == id && c.UserID == userID {
			return c, nil
		}
	}
	return store.Chat{}, store.ErrNotFound
}

func (m memChats) List(_ context.Context, userID int64) ([]store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Chat{}
	for i := len(m.chats) - 1; i >= 0; i-- {
		if m.chats[i].UserID == userID {
			out = append(out, m.chats[i])
		}
	}
	return out, nil
}

func (m memChats) Delete(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.chats)
	m.chats = slices.DeleteFunc(m.chats, func(c store.Chat) bool { return c.ID == id && c.UserID == userID })
	if len(m.chats) == n {
		return store.ErrNotFound
	}
	m.msgs = slices.DeleteFunc(m.msgs, func(x store.Message) bool { return x.ChatID == id })
	m.steps = slices.DeleteFunc(m.steps, func(x steps.Step) bool { return x.ChatID == id })
	m.hists = slices.DeleteFunc(m.hists, func(x history.Record) bool { return x.ChatID == id })
	return nil
}

func (m memChats) SetTemplate(_ context.Context, id int64, path, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.chats {
		if m.chats[i].ID == id {
			m.chats[i].TemplatePath, m.chats[i].TemplateFilename = &path, &filename
			return nil
		}
	}
	return store.ErrNotFound
}

type memMessages struct{ *memDB }

func (m memMessages) Create(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID, msg.CreatedAt = m.next(), time.Now()
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m memMessages) ListByChat(_ context.Context, chatID int64) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Message{}
	for _, x := range m.msgs {
		if x.ChatID == chatID {
			out = append(out, x)
		}
	}
	return out, nil
}

type memSteps struct{ *memDB }

func (m memSteps) ReplaceForChat(_ context.Context, chatID int64, drafts []steps.Draft) ([]steps.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = slices.DeleteFunc(m.steps, func(s steps.Step) bool { return s.ChatID == chatID })
	out := []steps.Step{}
	for _, d := range drafts {
		s := steps.Step{ID: m.next(), ChatID: chatID, Number: d.Number, Title: d.Title, Description: d.Description, CreatedAt: time.Now()}
		m.steps = append(m.steps, s)
		out = append(out, s)
	}
	return out, nil
}

func (m memSteps) ListByChat(_ context.Context, chatID int64) ([]steps.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []steps.Step{}
	for _, s := range m.steps {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b steps.Step) int { return a.Number - b.Number })
	return out, nil
}

func (m memSteps) Current(ctx context.Context, chatID int64) (steps.Step, error) {
	list, _ := m.ListByChat(ctx, chatID)
	if cur := steps.Current(list); cur != nil {
		return *cur, nil
	}
	return steps.Step{}, store.ErrNotFound
}

func (m memSteps) Complete(_ context.Context, chatID, stepID int64) (steps.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		s := &m.steps[i]
		if s.ID == stepID && s.ChatID == chatID {
			if !s.IsCompleted {
				now := time.Now()
				s.IsCompleted, s.CompletedAt = true, &now
			}
			return *s, nil
		}
	}
	return steps.Step{}, store.ErrNotFound
}

type memHistories struct{ *memDB }

func (m memHistories) Create(_ context.Context, rec *history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID, rec.CreatedAt = m.next(), time.Now()
	rec.UpdatedAt = rec.CreatedAt
	m.hists = append(m.hists, *rec)
	return nil
}

func (m memHistories) Get(_ context.Context, id int64) (history.Record, error) {
	return m.find(func(r history.Record) bool { return r.ID == id })
}

func (m memHistories) GetByChat(_ context.Context, chatID int64) (history.Record, error) {
	return m.find(func(r history.Record) bool { return r.ChatID == chatID })
}

func (m memHistories) find(pred func(history.Record) bool) (history.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.hists) - 1; i >= 0; i-- {
		if pred(m.hists[i]) {
			return m.hists[i], nil
		}
	}
	return history.Record{}, store.ErrNotFound
}

func (m memHistories) filter(pred func(history.Record) bool) []history.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []history.Record{}
	for _, r := range m.hists {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func (m memHistories) ListForUser(_ context.Context, userID int64) ([]history.Record, error) {
	return m.filter(func(r history.Record) bool { return r.UserID == userID }), nil
}

func (m memHistories) ListAll(context.Context) ([]history.Record, error) {
	return m.filter(func(history.Record) bool { return true }), nil
}

func (m memHistories) ListAssigned(_ context.Context, clerkID int64) ([]history.Record, error) {
	m.mu.Lock()
	ids := slices.Clone(m.assignments[clerkID])
	m.mu.Unlock()
	return m.filter(func(r history.Record) bool { return slices.Contains(ids, r.UserID) }), nil
}

func (m memHistories) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.hists)
	m.hists = slices.DeleteFunc(m.hists, func(r history.Record) bool { return r.ID == id })
	if len(m.hists) == n {
		return store.ErrNotFound
	}
	return nil
}

// fakeEngine returns canned answers and records what it was asked.
type fakeEngine struct {
	mu     sync.Mutex
	reply  string
	vision assistant.VisionResult
	cands  []steps.Candidate
	doc    history.Document
	err    error
	calls  int

	lastChat   assistant.ChatRequest
	lastVision assistant.VisionRequest
	deadline   time.Time
}

func (f *fakeEngine) Name() string     { return "fake" }
func (f *fakeEngine) GetModel() string { return "fake-1" }

func (f *fakeEngine) record(ctx context.Context) {
	f.calls++
	f.deadline, _ = ctx.Deadline()
}

func (f *fakeEngine) Chat(ctx context.Context, in assistant.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.lastChat = in
	return f.reply, f.err
}

func (f *fakeEngine) AnalyzeImage(ctx context.Context, in assistant.VisionRequest) (assistant.VisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.lastVision = in
	return f.vision, f.err
}

func (f *fakeEngine) ExtractSteps(ctx context.Context, _ []byte) ([]steps.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	return f.cands, f.err
}

func (f *fakeEngine) SummarizeHistory(ctx context.Context, _ []assistant.Message) (history.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	return f.doc, f.err
}
