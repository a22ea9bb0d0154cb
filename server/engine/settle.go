package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"aibeasts/server/agent"
	"aibeasts/server/escrow"
	"aibeasts/server/judge"
	"aibeasts/server/rating"
	"aibeasts/server/store"
)

var (
	ErrAlreadyPlayed    = errors.New("lobby has already been played")
	ErrLobbyUnavailable = errors.New("lobby is not available")
	ErrSelfBattle       = errors.New("cannot battle your own lobby")
	ErrNoBeast          = errors.New("both players need a beast")
	ErrNoWinner         = errors.New("referee named no winner")
)

const (
	winXP  = 10
	lossXP = 3
)

// Store is the persistence the settlement needs.
type Store interface {
	ClaimLobby(ctx context.Context, lobbyID, challengerID string) (store.Lobby, error)
	ReleaseLobby(ctx context.Context, lobbyID string) error
	LobbyByID(ctx context.Context, id string) (store.Lobby, error)
	BattleByLobby(ctx context.Context, lobbyID string) (store.Battle, error)
	BeastByOwner(ctx context.Context, userID string) (agent.Beast, error)
	WalletOf(ctx context.Context, userID string) (string, error)
	RecordBattle(ctx context.Context, b store.Battle, results ...store.BeastResult) error
	ClaimPayout(ctx context.Context, battleID string) (txHash string, err error)
	SetPayoutTx(ctx context.Context, battleID, txHash string) error
	SetPayout(ctx context.Context, battleID, status, txHash, errText string) error
	PendingPayouts(ctx context.Context) ([]store.PendingPayout, error)
}

// Payer releases a wagered pot on chain. Send only broadcasts; Wait and
// Receipt report what became of the transaction.
type Payer interface {
	Send(ctx context.Context, contractBattleID, wallet string) (txHash string, err error)
	Wait(ctx context.Context, txHash string) (escrow.TxState, error)
	Receipt(ctx context.Context, txHash string) (escrow.TxState, error)
}

const defaultPayTimeout = 3 * time.Minute

type SettleRequest struct {
	LobbyID      string
	ChallengerID string
}

type Payout struct {
	Status string `json:"status"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Outcome is a settled lobby battle. On ErrNoWinner only the transcript and
// judge log are set.
type Outcome struct {
	BattleID     string   `json:"battle_id,omitempty"`
	Transcript   []string `json:"transcript"`
	JudgeLog     string   `json:"judge_log"`
	Winner       string   `json:"winner,omitempty"`
	WinnerUserID string   `json:"winner_user_id,omitempty"`
	Payout       Payout   `json:"payout"`
}

// Settler turns a lobby into exactly one recorded battle.
type Settler struct {
	Store   Store
	Runner  Runner
	Payer   Payer // nil leaves wagered payouts pending
	Ratings rating.Elo
	NewID   func() string

	// PayTimeout bounds one payout attempt independently of the caller's
	// context. Zero means three minutes.
	PayTimeout time.Duration

	OnOutcome func(outcome string)
	OnPayout  func(status string)
}

func (s Settler) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s Settler) outcome(o string) {
	if s.OnOutcome != nil {
		s.OnOutcome(o)
	}
}

// Settle claims the lobby, runs and judges the battle, records it and then
// pays the winner when the lobby carries a wager. Until the record is
// written every failure hands the lobby back.
func (s Settler) Settle(ctx context.Context, req SettleRequest) (Outcome, error) {
	lobby, err := s.claim(ctx, req)
	if err != nil {
		s.outcome("rejected")
		return Outcome{}, err
	}
	log.Printf("settle: lobby %s claimed by %s", lobby.ID, req.ChallengerID)

	recorded := false
	defer func() {
		if recorded {
			return
		}
		// the request context may be gone; releasing must still happen
		rctx := context.WithoutCancel(ctx)
		if err := s.Store.ReleaseLobby(rctx, lobby.ID); err != nil {
			log.Printf("settle: lobby %s release failed: %v", lobby.ID, err)
			return
		}
		log.Printf("settle: lobby %s released", lobby.ID)
	}()

	challenger, creator, err := s.loadBeasts(ctx, req.ChallengerID, lobby.CreatedBy)
	if err != nil {
		s.outcome("error")
		return Outcome{}, err
	}

	t, err := s.Runner.Run(ctx, challenger, creator)
	if err != nil {
		s.outcome("error")
		return Outcome{}, fmt.Errorf("battle: %w", err)
	}
	v, raw, err := s.Runner.Judge(ctx, t)
	out := Outcome{Transcript: t.Lines, JudgeLog: raw}
	if err != nil && raw == "" {
		s.outcome("error")
		return Outcome{}, err
	}
	side := judge.SideNone
	if err == nil {
		side, _ = judge.Resolve(v, challenger.Name, creator.Name)
	}
	if side == judge.SideNone {
		log.Printf("settle: lobby %s no winner in verdict %q", lobby.ID, raw)
		s.outcome("no_winner")
		return out, ErrNoWinner
	}

	winBeast, loseBeast, winUser := challenger, creator, req.ChallengerID
	if side == judge.SideB {
		winBeast, loseBeast, winUser = creator, challenger, lobby.CreatedBy
	}
	log.Printf("settle: lobby %s judged, winner %s (%s)", lobby.ID, winBeast.Name, side)

	payout := Payout{Status: store.PayoutNone}
	var wallet string
	if lobby.Wagered() {
		payout.Status = store.PayoutPending
		w, err := s.Store.WalletOf(ctx, winUser)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.outcome("error")
			return Outcome{}, fmt.Errorf("winner wallet: %w", err)
		}
		if !escrow.ValidWallet(w) {
			payout.Status = store.PayoutMissingWallet
		} else {
			wallet = w
		}
	}

	_, _, delta := s.Ratings.Update(winBeast.Elo, loseBeast.Elo, loseBeast.GamesPlayed)
	battle := store.Battle{
		ID:              s.newID(),
		LobbyID:         lobby.ID,
		Character1:      challenger.Name,
		Character2:      creator.Name,
		CharacterWinner: winBeast.Name,
		User1:           req.ChallengerID,
		User2:           lobby.CreatedBy,
		Winner:          winUser,
		BattleLog:       t.Lines,
		JudgeLog:        raw,
		Environment:     "standard",
		WinnerWallet:    wallet,
		PayoutStatus:    payout.Status,
	}
	err = s.Store.RecordBattle(ctx, battle,
		store.BeastResult{BeastID: winBeast.ID, Won: true, XP: winXP, EloDelta: delta},
		store.BeastResult{BeastID: loseBeast.ID, XP: lossXP, EloDelta: -delta},
	)
	if errors.Is(err, store.ErrDuplicate) {
		s.outcome("duplicate")
		return Outcome{}, ErrAlreadyPlayed
	}
	if errors.Is(err, store.ErrNotOpen) {
		s.outcome("rejected")
		return Outcome{}, ErrLobbyUnavailable
	}
	if err != nil {
		s.outcome("error")
		return Outcome{}, fmt.Errorf("record battle: %w", err)
	}
	recorded = true
	log.Printf("settle: lobby %s recorded as battle %s", lobby.ID, battle.ID)
	s.outcome("recorded")

	out.BattleID = battle.ID
	out.Winner = winBeast.Name
	out.WinnerUserID = winUser
	out.Payout = payout
	if payout.Status == store.PayoutPending {
		out.Payout = s.pay(ctx, battle.ID, lobby.ContractBattleID, wallet)
	} else if payout.Status == store.PayoutMissingWallet {
		log.Printf("settle: lobby %s winner %s has no wallet; payout held", lobby.ID, winUser)
		s.payoutStatus(payout.Status)
	}
	return out, nil
}

// claim wins the lobby for the challenger or explains why it cannot.
func (s Settler) claim(ctx context.Context, req SettleRequest) (store.Lobby, error) {
	lobby, err := s.Store.ClaimLobby(ctx, req.LobbyID, req.ChallengerID)
	if err == nil {
		return lobby, nil
	}
	if !errors.Is(err, store.ErrNotOpen) {
		return store.Lobby{}, fmt.Errorf("claim lobby: %w", err)
	}
	if _, err := s.Store.BattleByLobby(ctx, req.LobbyID); err == nil {
		return store.Lobby{}, ErrAlreadyPlayed
	}
	l, err := s.Store.LobbyByID(ctx, req.LobbyID)
	switch {
	case err != nil:
		return store.Lobby{}, ErrLobbyUnavailable
	case l.Status == store.LobbyPlayed:
		return store.Lobby{}, ErrAlreadyPlayed
	case l.CreatedBy == req.ChallengerID:
		return store.Lobby{}, ErrSelfBattle
	}
	return store.Lobby{}, ErrLobbyUnavailable
}

func (s Settler) loadBeasts(ctx context.Context, challengerID, creatorID string) (challenger, creator agent.Beast, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.Store.BeastByOwner(gctx, challengerID)
		challenger = b
		return err
	})
	g.Go(func() error {
		b, err := s.Store.BeastByOwner(gctx, creatorID)
		creator = b
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return agent.Beast{}, agent.Beast{}, ErrNoBeast
		}
		return agent.Beast{}, agent.Beast{}, fmt.Errorf("load beasts: %w", err)
	}
	return challenger, creator, nil
}

func (s Settler) payoutStatus(status string) {
	if s.OnPayout != nil {
		s.OnPayout(status)
	}
}

func (s Settler) payTimeout() time.Duration {
	if s.PayTimeout > 0 {
		return s.PayTimeout
	}
	return defaultPayTimeout
}

// pay claims the battle's payout and runs one attempt. A transaction that
// was already broadcast is looked up instead of sent again; only a reverted
// one is re-sent. The attempt outlives the caller's context.
func (s Settler) pay(ctx context.Context, battleID, contractBattleID, wallet string) Payout {
	if s.Payer == nil {
		log.Printf("settle: battle %s payout pending, no chain client configured", battleID)
		s.payoutStatus(store.PayoutPending)
		return Payout{Status: store.PayoutPending}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.payTimeout())
	defer cancel()

	prev, err := s.Store.ClaimPayout(ctx, battleID)
	if errors.Is(err, store.ErrNotOpen) {
		log.Printf("settle: battle %s payout already claimed", battleID)
		return Payout{Status: store.PayoutPaying}
	}
	if err != nil {
		log.Printf("settle: battle %s payout claim failed: %v", battleID, err)
		return Payout{Status: store.PayoutFailed, Error: err.Error()}
	}

	if prev != "" {
		st, err := s.Payer.Receipt(ctx, prev)
		switch {
		case err != nil:
			return s.finish(ctx, battleID, Payout{Status: store.PayoutFailed, TxHash: prev, Error: fmt.Sprintf("receipt %s: %v", prev, err)})
		case st == escrow.TxSucceeded:
			log.Printf("settle: battle %s already paid in %s", battleID, prev)
			return s.finish(ctx, battleID, Payout{Status: store.PayoutPaid, TxHash: prev})
		case st == escrow.TxUnknown:
			return s.finish(ctx, battleID, Payout{Status: store.PayoutFailed, TxHash: prev, Error: fmt.Sprintf("transaction %s not mined yet", prev)})
		}
		log.Printf("settle: battle %s transaction %s reverted, sending again", battleID, prev)
	}

	hash, err := s.Payer.Send(ctx, contractBattleID, wallet)
	if err != nil {
		return s.finish(ctx, battleID, Payout{Status: store.PayoutFailed, TxHash: prev, Error: err.Error()})
	}
	if err := s.Store.SetPayoutTx(ctx, battleID, hash); err != nil {
		log.Printf("settle: battle %s tx %s not saved: %v", battleID, hash, err)
	}
	st, err := s.Payer.Wait(ctx, hash)
	switch {
	case err != nil:
		return s.finish(ctx, battleID, Payout{Status: store.PayoutFailed, TxHash: hash, Error: fmt.Sprintf("wait mined %s: %v", hash, err)})
	case st == escrow.TxReverted:
		return s.finish(ctx, battleID, Payout{Status: store.PayoutFailed, TxHash: hash, Error: escrow.ErrReverted.Error()})
	}
	log.Printf("settle: battle %s paid to %s in %s", battleID, wallet, hash)
	return s.finish(ctx, battleID, Payout{Status: store.PayoutPaid, TxHash: hash})
}

// finish stores the attempt's result on the claimed row.
func (s Settler) finish(ctx context.Context, battleID string, p Payout) Payout {
	if p.Status == store.PayoutFailed {
		log.Printf("settle: battle %s payout failed: %s", battleID, p.Error)
	}
	s.payoutStatus(p.Status)
	if err := s.Store.SetPayout(context.WithoutCancel(ctx), battleID, p.Status, p.TxHash, p.Error); err != nil {
		log.Printf("settle: battle %s payout status not saved: %v", battleID, err)
	}
	return p
}

// RetryPayouts re-attempts every claimable payout and returns how many were
// paid. Payouts another worker holds are skipped by the claim.
func (s Settler) RetryPayouts(ctx context.Context) (paid int, err error) {
	if s.Payer == nil {
		return 0, errors.New("no chain client configured")
	}
	pending, err := s.Store.PendingPayouts(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return paid, err
		}
		if !escrow.ValidWallet(p.Wallet) {
			log.Printf("retry: battle %s has no valid winner wallet", p.BattleID)
			continue
		}
		if s.pay(ctx, p.BattleID, p.ContractBattleID, p.Wallet).Status == store.PayoutPaid {
			paid++
		}
	}
	return paid, nil
}
