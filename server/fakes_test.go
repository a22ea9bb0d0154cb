package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"aibeasts/server/agent"
	"aibeasts/server/judge"
	"aibeasts/server/llm"
	"aibeasts/server/store"
)

var fighterName = regexp.MustCompile(`^You are (.+?), a beast`)

// scriptedLLM plays every fighter turn and answers the referee with verdict.
type scriptedLLM struct {
	mu      sync.Mutex
	verdict string
	calls   int
}

func (s *scriptedLLM) Chat(_ context.Context, _ string, msgs []llm.Message, _ llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if msgs[0].Content == judge.RefereeSystem {
		return s.verdict, nil
	}
	if m := fighterName.FindStringSubmatch(msgs[0].Content); m != nil {
		return fmt.Sprintf("%s: strike %d", m[1], s.calls), nil
	}
	return `{"type": "conversation"}`, nil
}

type fakeStore struct {
	mu      sync.Mutex
	pingErr error
	seq     int
	users   map[string]store.User // by id
	beasts  map[string]agent.Beast
	lobbies map[string]store.Lobby
	battles map[string]store.Battle // by lobby
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]store.User{},
		beasts:  map[string]agent.Beast{},
		lobbies: map[string]store.Lobby{},
		battles: map[string]store.Battle{},
	}
}

func (f *fakeStore) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) addUser(id, name string) {
	f.users[id] = store.User{ID: id, Username: name, Email: name + "@example.com"}
}

func (f *fakeStore) addBeast(owner, id, name string, ai bool) {
	b := agent.Beast{ID: id, Name: name, Elo: 1500, AIGenerated: ai}
	if owner != "" {
		o := owner
		b.UserID = &o
	}
	f.beasts[id] = b
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) CreateUser(_ context.Context, username, email, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return store.User{}, store.ErrConflict
		}
	}
	u := store.User{ID: f.next("user"), Username: username, Email: email, PasswordHash: hash}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) UserByUsername(_ context.Context, username string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) UserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) SetWallet(_ context.Context, userID, wallet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Wallet = wallet
	f.users[userID] = u
	return nil
}

func (f *fakeStore) WalletOf(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID].Wallet, nil
}

func (f *fakeStore) BeastByOwner(_ context.Context, userID string) (agent.Beast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.beasts {
		if b.UserID != nil && *b.UserID == userID {
			return b, nil
		}
	}
	return agent.Beast{}, store.ErrNotFound
}

func (f *fakeStore) BeastByID(_ context.Context, id string) (agent.Beast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.beasts[id]
	if !ok {
		return agent.Beast{}, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) CreateBeast(_ context.Context, b agent.Beast) (agent.Beast, error) {
	if err := agent.Validate(b); err != nil {
		return agent.Beast{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ID = f.next("beast")
	f.beasts[b.ID] = b
	return b, nil
}

func (f *fakeStore) AddTrait(_ context.Context, beastID string, kind agent.TraitKind, trait string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.beasts[beastID]
	if !ok {
		return false, store.ErrNotFound
	}
	added := b.AddTrait(kind, trait)
	f.beasts[beastID] = b
	return added, nil
}

func (f *fakeStore) SetImage(ctx context.Context, userID, url string) error {
	b, err := f.BeastByOwner(ctx, userID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ImageURL = url
	f.beasts[b.ID] = b
	return nil
}

func (f *fakeStore) Leaderboard(_ context.Context, limit int) ([]agent.Beast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []agent.Beast
	for _, b := range f.beasts {
		out = append(out, b)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CreateLobby(_ context.Context, l store.Lobby) (store.Lobby, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = f.next("lobby")
	l.Status = store.LobbyOpen
	f.lobbies[l.ID] = l
	return l, nil
}

func (f *fakeStore) LobbyByID(_ context.Context, id string) (store.Lobby, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lobbies[id]
	if !ok {
		return store.Lobby{}, store.ErrNotFound
	}
	return l, nil
}

func (f *fakeStore) OpenLobbies(_ context.Context, mode string) ([]store.Lobby, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Lobby{}
	for _, l := range f.lobbies {
		if l.Status == store.LobbyOpen && l.Mode == mode {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) LobbiesFor(_ context.Context, userID string) ([]store.Lobby, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Lobby{}
	for _, l := range f.lobbies {
		if l.CreatedBy == userID || l.OpponentID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimLobby(_ context.Context, lobbyID, challengerID string) (store.Lobby, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lobbies[lobbyID]
	if !ok || l.Status != store.LobbyOpen || l.CreatedBy == challengerID {
		return store.Lobby{}, store.ErrNotOpen
	}
	l.Status = store.LobbyBattling
	l.OpponentID = challengerID
	f.lobbies[lobbyID] = l
	return l, nil
}

func (f *fakeStore) ReleaseLobby(_ context.Context, lobbyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lobbies[lobbyID]
	if ok && l.Status == store.LobbyBattling {
		l.Status = store.LobbyOpen
		l.OpponentID = ""
		f.lobbies[lobbyID] = l
	}
	return nil
}

func (f *fakeStore) BattleByLobby(_ context.Context, lobbyID string) (store.Battle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.battles[lobbyID]
	if !ok {
		return store.Battle{}, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) RecordBattle(_ context.Context, b store.Battle, results ...store.BeastResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.battles[b.LobbyID]; dup {
		return store.ErrDuplicate
	}
	l := f.lobbies[b.LobbyID]
	if l.Status != store.LobbyBattling {
		return store.ErrNotOpen
	}
	l.Status = store.LobbyPlayed
	f.lobbies[b.LobbyID] = l
	f.battles[b.LobbyID] = b
	for _, r := range results {
		beast := f.beasts[r.BeastID]
		beast.Elo += r.EloDelta
		beast.GamesPlayed++
		beast.Experience += r.XP
		if r.Won {
			beast.Wins++
		}
		f.beasts[r.BeastID] = beast
	}
	return nil
}

// updatePayout applies fn to the battle with battleID while its payout is in
// one of the given states.
func (f *fakeStore) updatePayout(battleID string, states []string, fn func(*store.Battle)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, b := range f.battles {
		if b.ID != battleID {
			continue
		}
		if !slices.Contains(states, b.PayoutStatus) {
			return store.ErrNotOpen
		}
		fn(&b)
		f.battles[k] = b
		return nil
	}
	return errors.New("no such battle")
}

func (f *fakeStore) ClaimPayout(_ context.Context, battleID string) (string, error) {
	var tx string
	err := f.updatePayout(battleID, []string{store.PayoutPending, store.PayoutFailed}, func(b *store.Battle) {
		b.PayoutStatus = store.PayoutPaying
		tx = b.PayoutTx
	})
	return tx, err
}

func (f *fakeStore) SetPayoutTx(_ context.Context, battleID, txHash string) error {
	return f.updatePayout(battleID, []string{store.PayoutPaying}, func(b *store.Battle) {
		b.PayoutTx, b.PayoutError = txHash, ""
	})
}

func (f *fakeStore) SetPayout(_ context.Context, battleID, status, txHash, errText string) error {
	return f.updatePayout(battleID, []string{store.PayoutPaying}, func(b *store.Battle) {
		b.PayoutStatus, b.PayoutError = status, errText
		if txHash != "" {
			b.PayoutTx = txHash
		}
	})
}

func (f *fakeStore) PendingPayouts(context.Context) ([]store.PendingPayout, error) {
	return nil, nil
}
