package application_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

const (
	testToken  = "AbCdEfGhIjKlMnOp|1234567890|QrStUvWxYz0123456789"
	otherToken = "ZyXwVuTsRqPoNmLk|0987654321|JiHgFeDcBa9876543210"
)

var (
	testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	testUser  = model.UserInfo{ID: "KAb9AAxyz", Name: "Pat Doe", Emails: []string{"pat@example.com"}}
)

// --- Mock implementations ---

// memVaultStore is an in-memory VaultStore.
type memVaultStore struct {
	mu      sync.Mutex
	cred    *model.Credential
	loadErr error
	saveErr error
	saves   int
	touched []time.Time
	deletes int
}

func (m *memVaultStore) Load(_ context.Context) (model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return model.Credential{}, m.loadErr
	}
	if m.cred == nil {
		return model.Credential{}, model.NewError(model.KindNotFound, "load credential", nil)
	}
	return *m.cred, nil
}

func (m *memVaultStore) Save(_ context.Context, cred model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.cred = &cred
	return nil
}

func (m *memVaultStore) Touch(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, at)
	if m.cred != nil {
		m.cred.LastUsedAt = at
	}
	return nil
}

func (m *memVaultStore) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	m.cred = nil
	return nil
}

func (m *memVaultStore) stored() *model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// mockLegacyStore keeps entries in memory; removed locations stop showing up in Scan.
type mockLegacyStore struct {
	entries   []model.LegacyEntry
	scanErr   error
	removeErr map[string]error
	removed   []string
}

func (m *mockLegacyStore) Scan(_ context.Context) ([]model.LegacyEntry, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	var out []model.LegacyEntry
	for _, e := range m.entries {
		if !slices.Contains(m.removed, e.Location) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockLegacyStore) Remove(_ context.Context, location string) (bool, error) {
	if err := m.removeErr[location]; err != nil {
		return false, err
	}
	if slices.Contains(m.removed, location) {
		return false, nil
	}
	held := slices.ContainsFunc(m.entries, func(e model.LegacyEntry) bool { return e.Location == location })
	if held {
		m.removed = append(m.removed, location)
	}
	return held, nil
}

// mockProbe answers who-am-I calls from a token table. Unknown tokens get 401.
type mockProbe struct {
	mu     sync.Mutex
	users  map[string]model.UserInfo
	whoAmI func(token string) (model.ProbeResult, error)
	calls  []string
}

func (m *mockProbe) WhoAmI(_ context.Context, token string) (model.ProbeResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, token)
	m.mu.Unlock()

	if m.whoAmI != nil {
		return m.whoAmI(token)
	}
	if u, ok := m.users[token]; ok {
		return model.ProbeResult{StatusCode: 200, User: u}, nil
	}
	return model.ProbeResult{StatusCode: 401, ErrorDescription: "token expired"}, nil
}

func (m *mockProbe) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func acceptingProbe(tokens ...string) *mockProbe {
	users := make(map[string]model.UserInfo, len(tokens))
	for _, t := range tokens {
		users[t] = testUser
	}
	return &mockProbe{users: users}
}

// mockPrompter returns queued tokens in order.
type mockPrompter struct {
	tokens    []string
	promptErr error
	consent   bool
	prompts   int
	confirms  [][]string
}

func (m *mockPrompter) PromptForNewCredential(_ context.Context) (string, error) {
	if m.promptErr != nil {
		return "", m.promptErr
	}
	if m.prompts >= len(m.tokens) {
		return "", errors.New("no more tokens queued")
	}
	tok := m.tokens[m.prompts]
	m.prompts++
	return tok, nil
}

func (m *mockPrompter) ConfirmMigration(_ context.Context, locations []string) (bool, error) {
	m.confirms = append(m.confirms, locations)
	return m.consent, nil
}

// mockDirectory is a UserDirectory with func fields and call recording.
type mockDirectory struct {
	mu          sync.Mutex
	lookupUsers func(ids []string) (map[string]model.UserInfo, error)
	lookupUser  func(email string) (model.UserInfo, error)
	getFolder   func(id string) (model.Folder, error)
	addMembers  func(folderID string, ids []string) error

	bulkCalls   [][]string
	singleCalls []string
	addCalls    [][]string
}

func (m *mockDirectory) LookupUsers(ctx context.Context, ids []string) (map[string]model.UserInfo, error) {
	m.mu.Lock()
	m.bulkCalls = append(m.bulkCalls, slices.Clone(ids))
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.lookupUsers == nil {
		return map[string]model.UserInfo{}, nil
	}
	return m.lookupUsers(ids)
}

func (m *mockDirectory) LookupUser(ctx context.Context, email string) (model.UserInfo, error) {
	m.mu.Lock()
	m.singleCalls = append(m.singleCalls, email)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return model.UserInfo{}, err
	}
	if m.lookupUser == nil {
		return model.UserInfo{}, notFound()
	}
	return m.lookupUser(email)
}

func (m *mockDirectory) GetFolder(_ context.Context, id string) (model.Folder, error) {
	if m.getFolder == nil {
		return model.Folder{ID: id}, nil
	}
	return m.getFolder(id)
}

func (m *mockDirectory) AddFolderMembers(_ context.Context, folderID string, ids []string) error {
	m.mu.Lock()
	m.addCalls = append(m.addCalls, slices.Clone(ids))
	m.mu.Unlock()
	if m.addMembers == nil {
		return nil
	}
	return m.addMembers(folderID, ids)
}

func (m *mockDirectory) singles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.singleCalls)
}

func (m *mockDirectory) bulks() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.bulkCalls)
}

func notFound() error {
	return &model.Error{Kind: model.KindNotFound, Op: "lookup user", Status: 404}
}

func transientErr() error {
	return &model.Error{Kind: model.KindTransient, Op: "lookup users", Status: 500, Attempts: 4, Err: errors.New("internal error")}
}

// usersByAddress builds a bulk lookup answering only the given addresses.
func usersByAddress(known map[string]string) func(ids []string) (map[string]model.UserInfo, error) {
	return func(ids []string) (map[string]model.UserInfo, error) {
		out := make(map[string]model.UserInfo)
		for _, id := range ids {
			if uid, ok := known[id]; ok {
				out[id] = model.UserInfo{ID: uid, Emails: []string{id}}
			}
		}
		return out, nil
	}
}

// userByAddress builds a single lookup answering only the given addresses.
func userByAddress(known map[string]string) func(email string) (model.UserInfo, error) {
	return func(email string) (model.UserInfo, error) {
		if uid, ok := known[email]; ok {
			return model.UserInfo{ID: uid, Emails: []string{email}}, nil
		}
		return model.UserInfo{}, notFound()
	}
}
