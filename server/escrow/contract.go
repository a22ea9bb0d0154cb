package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// battleBetABI covers the two methods the server touches. Players create and
// join battles from their own wallets; only the owner key declares winners.
const battleBetABI = `[
  {"inputs":[{"internalType":"uint256","name":"_battleId","type":"uint256"},{"internalType":"address","name":"_winner","type":"address"}],
   "name":"declareWinner","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"battleCounter","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],
   "stateMutability":"view","type":"function"}
]`

var ErrReverted = errors.New("declareWinner transaction reverted")

// Client signs declareWinner calls with the contract owner's key.
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	address  common.Address
	poll     time.Duration
}

// Dial connects to the RPC endpoint and binds the BattleBet contract. A zero
// chainID is looked up from the node.
func Dial(ctx context.Context, rpcURL, hexKey, contract string, chainID int64) (*Client, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, errors.New("escrow: rpc url missing")
	}
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("escrow: bad contract address %q", contract)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("escrow: private key: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("escrow: dial: %w", err)
	}
	cid := big.NewInt(chainID)
	if chainID == 0 {
		cid, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("escrow: chain id: %w", err)
		}
	}
	parsed, err := abi.JSON(strings.NewReader(battleBetABI))
	if err != nil {
		eth.Close()
		return nil, err
	}
	addr := common.HexToAddress(contract)
	return &Client{
		eth:      eth,
		contract: bind.NewBoundContract(addr, parsed, eth, eth, eth),
		key:      key,
		chainID:  cid,
		address:  addr,
		poll:     2 * time.Second,
	}, nil
}

func (c *Client) Close() { c.eth.Close() }

// Owner is the address the server signs with.
func (c *Client) Owner() common.Address { return crypto.PubkeyToAddress(c.key.PublicKey) }

// TxState is what the chain says about a sent transaction.
type TxState int

const (
	TxUnknown   TxState = iota // not found or not mined yet
	TxSucceeded
	TxReverted
)

// DeclareWinner broadcasts declareWinner(battleID, winner) and returns the
// transaction hash without waiting for it to be mined.
func (c *Client) DeclareWinner(ctx context.Context, battleID *big.Int, winner common.Address) (string, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return "", err
	}
	opts.Context = ctx
	tx, err := c.contract.Transact(opts, "declareWinner", battleID, winner)
	if err != nil {
		return "", fmt.Errorf("declareWinner: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// Send is DeclareWinner over the string forms stored with lobbies and users.
func (c *Client) Send(ctx context.Context, contractBattleID, wallet string) (string, error) {
	id, err := ParseBattleID(contractBattleID)
	if err != nil {
		return "", err
	}
	if !ValidWallet(wallet) {
		return "", fmt.Errorf("escrow: bad winner wallet %q", wallet)
	}
	return c.DeclareWinner(ctx, id, common.HexToAddress(wallet))
}

// Receipt looks the transaction up once.
func (c *Client) Receipt(ctx context.Context, txHash string) (TxState, error) {
	r, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return TxUnknown, nil
	}
	if err != nil {
		return TxUnknown, err
	}
	if r.Status != types.ReceiptStatusSuccessful {
		return TxReverted, nil
	}
	return TxSucceeded, nil
}

// Wait polls for the receipt until the transaction is mined or ctx ends.
func (c *Client) Wait(ctx context.Context, txHash string) (TxState, error) {
	tick := time.NewTicker(c.poll)
	defer tick.Stop()
	for {
		st, err := c.Receipt(ctx, txHash)
		if err != nil || st != TxUnknown {
			return st, err
		}
		select {
		case <-ctx.Done():
			return TxUnknown, ctx.Err()
		case <-tick.C:
		}
	}
}

// BattleCounter reads the contract's running battle id.
func (c *Client) BattleCounter(ctx context.Context) (*big.Int, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "battleCounter"); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("battleCounter: %d outputs", len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("battleCounter: unexpected type %T", out[0])
	}
	return n, nil
}
