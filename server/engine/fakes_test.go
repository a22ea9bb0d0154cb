package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"aibeasts/server/agent"
	"aibeasts/server/escrow"
	"aibeasts/server/judge"
	"aibeasts/server/llm"
	"aibeasts/server/store"
)

var fighterName = regexp.MustCompile(`^You are (.+?), a beast`)

// arena answers fighter turns with "<Name>: move N" and the referee with
// verdict.
type arena struct {
	mu      sync.Mutex
	verdict string
	failOn  int // fail the Nth call (1-based) when > 0
	calls   [][]llm.Message
	opts    []llm.Options
	models  []string
}

func (a *arena) Chat(_ context.Context, model string, msgs []llm.Message, opts llm.Options) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, msgs)
	a.opts = append(a.opts, opts)
	a.models = append(a.models, model)
	if a.failOn > 0 && len(a.calls) == a.failOn {
		return "", errors.New("rate limited")
	}
	if msgs[0].Content == judge.RefereeSystem {
		return a.verdict, nil
	}
	m := fighterName.FindStringSubmatch(msgs[0].Content)
	if m == nil {
		return "", fmt.Errorf("unexpected system prompt %q", msgs[0].Content)
	}
	return fmt.Sprintf("%s: move %d", m[1], len(a.calls)), nil
}

type memStore struct {
	mu      sync.Mutex
	lobbies map[string]store.Lobby
	battles map[string]store.Battle // by lobby
	beasts  map[string]agent.Beast  // by owner
	wallets map[string]string
	results []store.BeastResult
	payouts map[string]store.Battle // by battle id, payout fields only
	pending []store.PendingPayout
	release int
}

func newMemStore() *memStore {
	return &memStore{
		lobbies: map[string]store.Lobby{},
		battles: map[string]store.Battle{},
		beasts:  map[string]agent.Beast{},
		wallets: map[string]string{},
		payouts: map[string]store.Battle{},
	}
}

func (m *memStore) addBeast(owner, id, name string) {
	o := owner
	m.beasts[owner] = agent.Beast{ID: id, UserID: &o, Name: name, Elo: 1500}
}

func (m *memStore) ClaimLobby(_ context.Context, lobbyID, challengerID string) (store.Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[lobbyID]
	if !ok || l.Status != store.LobbyOpen || l.CreatedBy == challengerID {
		return store.Lobby{}, store.ErrNotOpen
	}
	l.Status = store.LobbyBattling
	l.OpponentID = challengerID
	m.lobbies[lobbyID] = l
	return l, nil
}

func (m *memStore) ReleaseLobby(_ context.Context, lobbyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[lobbyID]
	if ok && l.Status == store.LobbyBattling {
		l.Status = store.LobbyOpen
		l.OpponentID = ""
		m.lobbies[lobbyID] = l
		m.release++
	}
	return nil
}

func (m *memStore) LobbyByID(_ context.Context, id string) (store.Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[id]
	if !ok {
		return store.Lobby{}, store.ErrNotFound
	}
	return l, nil
}

func (m *memStore) BattleByLobby(_ context.Context, lobbyID string) (store.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[lobbyID]
	if !ok {
		return store.Battle{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memStore) BeastByOwner(_ context.Context, userID string) (agent.Beast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beasts[userID]
	if !ok {
		return agent.Beast{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memStore) WalletOf(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[userID], nil
}

func (m *memStore) RecordBattle(_ context.Context, b store.Battle, results ...store.BeastResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.battles[b.LobbyID]; dup {
		return store.ErrDuplicate
	}
	l := m.lobbies[b.LobbyID]
	if l.Status != store.LobbyBattling {
		return store.ErrNotOpen
	}
	l.Status = store.LobbyPlayed
	m.lobbies[b.LobbyID] = l
	m.battles[b.LobbyID] = b
	m.results = append(m.results, results...)
	m.payouts[b.ID] = store.Battle{PayoutStatus: b.PayoutStatus}
	return nil
}

func (m *memStore) ClaimPayout(_ context.Context, battleID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[battleID]
	if !ok || (p.PayoutStatus != store.PayoutPending && p.PayoutStatus != store.PayoutFailed) {
		return "", store.ErrNotOpen
	}
	p.PayoutStatus = store.PayoutPaying
	m.payouts[battleID] = p
	return p.PayoutTx, nil
}

func (m *memStore) SetPayoutTx(_ context.Context, battleID, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[battleID]
	if !ok || p.PayoutStatus != store.PayoutPaying {
		return store.ErrNotOpen
	}
	p.PayoutTx, p.PayoutError = txHash, ""
	m.payouts[battleID] = p
	return nil
}

func (m *memStore) SetPayout(_ context.Context, battleID, status, txHash, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[battleID]
	if !ok || p.PayoutStatus != store.PayoutPaying {
		return store.ErrNotOpen
	}
	p.PayoutStatus, p.PayoutError = status, errText
	if txHash != "" {
		p.PayoutTx = txHash
	}
	m.payouts[battleID] = p
	return nil
}

func (m *memStore) payout(battleID string) store.Battle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payouts[battleID]
}

func (m *memStore) PendingPayouts(context.Context) ([]store.PendingPayout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.PendingPayout(nil), m.pending...), nil
}

// payer records sends. Wait blocks on hold when set and then reports
// waitState, or ctx.Err() if the context ended first.
type payer struct {
	mu        sync.Mutex
	err       error
	calls     []string
	hold      chan struct{}
	waiting   chan struct{} // closed when the first Wait starts
	waitState escrow.TxState
	receipts  map[string]escrow.TxState
}

func (p *payer) Send(_ context.Context, contractBattleID, wallet string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, contractBattleID+"->"+strings.ToLower(wallet))
	if p.err != nil {
		return "", p.err
	}
	return "0xabc" + contractBattleID, nil
}

func (p *payer) Wait(ctx context.Context, txHash string) (escrow.TxState, error) {
	p.mu.Lock()
	if p.waiting != nil {
		close(p.waiting)
		p.waiting = nil
	}
	hold, st := p.hold, p.waitState
	p.mu.Unlock()
	if st == escrow.TxUnknown {
		st = escrow.TxSucceeded
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return escrow.TxUnknown, ctx.Err()
		}
	}
	return st, nil
}

func (p *payer) Receipt(_ context.Context, txHash string) (escrow.TxState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receipts[txHash], nil
}

func (p *payer) sends() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}
