package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// EthConfig configures the JSON-RPC backend.
type EthConfig struct {
	RPCURL          string
	ContractAddress string
	// OracleKey is a hex private key. Empty means read-only.
	OracleKey string
	// ChainID overrides the id reported by the node when non-zero.
	ChainID int64
}

// EthBackend talks to the claims contract over go-ethereum's ethclient.
type EthBackend struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	eventID  common.Hash

	// txMu serialises submissions so concurrent pipelines do not race on nonces.
	txMu   sync.Mutex
	signer *bind.TransactOpts
}

var parsedABI = sync.OnceValues(func() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ContractABI))
})

// NewEthDialer returns a Dialer that opens a fresh EthBackend per attempt.
func NewEthDialer(cfg EthConfig) Dialer {
	return func(ctx context.Context) (Backend, error) {
		return DialEth(ctx, cfg)
	}
}

// DialEth connects to the node and binds the contract.
func DialEth(ctx context.Context, cfg EthConfig) (*EthBackend, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := parsedABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	b := &EthBackend{
		client:   client,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		abi:      parsed,
		address:  address,
		eventID:  parsed.Events[EventClaimSubmitted].ID,
	}

	if cfg.OracleKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.OracleKey), "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("parse oracle key: %w", err)
		}
		if b.signer, err = b.newSigner(ctx, key, cfg.ChainID); err != nil {
			client.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *EthBackend) newSigner(ctx context.Context, key *ecdsa.PrivateKey, chainID int64) (*bind.TransactOpts, error) {
	id := big.NewInt(chainID)
	if chainID == 0 {
		var err error
		if id, err = b.client.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, id)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	return opts, nil
}

// OracleAddress returns the signing address, or the zero address when read-only.
func (b *EthBackend) OracleAddress() common.Address {
	if b.signer == nil {
		return common.Address{}
	}
	return b.signer.From
}

func (b *EthBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return b.client.BlockNumber(ctx)
}

func (b *EthBackend) filter(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{b.address},
		Topics:    [][]common.Hash{{b.eventID}},
	}
}

func (b *EthBackend) QueryEvents(ctx context.Context, from, to uint64) ([]Event, error) {
	q := b.filter(new(big.Int).SetUint64(from), new(big.Int).SetUint64(to))
	logs, err := b.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(logs))
	for _, l := range logs {
		events = append(events, b.decode(l))
	}
	return events, nil
}

func (b *EthBackend) decode(l types.Log) Event {
	return decodeLog(b.abi, l)
}

func decodeLog(parsed abi.ABI, l types.Log) Event {
	ev := Event{
		Name:        EventClaimSubmitted,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash.Hex(),
		LogIndex:    l.Index,
		Fields:      make(map[string]any),
	}
	if err := parsed.UnpackIntoMap(ev.Fields, EventClaimSubmitted, l.Data); err != nil {
		ev.DecodeError = fmt.Errorf("decode %s log: %w", EventClaimSubmitted, err)
	}
	return ev
}

func (b *EthBackend) Subscribe(ctx context.Context, sink chan<- Event) (Subscription, error) {
	logs := make(chan types.Log, 64)
	// The subscription outlives the setup context.
	sub, err := b.client.SubscribeFilterLogs(context.WithoutCancel(ctx), b.filter(nil, nil), logs)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return nil, ErrPushUnsupported
		}
		return nil, err
	}

	s := &ethSubscription{sub: sub, quit: make(chan struct{}), errc: make(chan error, 1)}
	go s.forward(logs, sink, b.decode)
	return s, nil
}

type ethSubscription struct {
	sub  ethereum.Subscription
	quit chan struct{}
	once sync.Once
	errc chan error
}

func (s *ethSubscription) forward(logs <-chan types.Log, sink chan<- Event, decode func(types.Log) Event) {
	defer close(s.errc)
	for {
		select {
		case <-s.quit:
			return
		case err, ok := <-s.sub.Err():
			if ok && err != nil {
				s.errc <- err
			}
			return
		case l := <-logs:
			if l.Removed {
				continue
			}
			select {
			case sink <- decode(l):
			case <-s.quit:
				return
			}
		}
	}
}

func (s *ethSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.sub.Unsubscribe()
	})
}

func (s *ethSubscription) Err() <-chan error { return s.errc }

func (b *EthBackend) EvaluateClaim(ctx context.Context, req EvaluateRequest) (*Receipt, error) {
	if b.signer == nil {
		return nil, ErrReadOnly
	}
	if req.PayoutAmount < 0 {
		return nil, fmt.Errorf("negative payout %d", req.PayoutAmount)
	}

	b.txMu.Lock()
	opts := *b.signer
	opts.Context = ctx
	tx, err := b.contract.Transact(&opts, "evaluateClaim",
		req.ClaimID, req.Approved, req.Verified, big.NewInt(req.PayoutAmount))
	b.txMu.Unlock()
	if err != nil {
		return nil, classifyRevert(err)
	}

	receipt, err := bind.WaitMined(ctx, b.client, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	out := &Receipt{
		TxHash:  receipt.TxHash.Hex(),
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return out, fmt.Errorf("%w: tx %s failed in block %d", ErrReverted, out.TxHash, out.BlockNumber)
	}
	return out, nil
}

// claimTuple mirrors the getClaim output tuple. Field names follow the
// ABI binding's camel-casing so abi.ConvertType can map them.
type claimTuple struct {
	ClaimId            string
	PolicyId           string
	UserId             string
	Description        string
	EvidenceReferences []string
	ReportReference    string
	Severity           *big.Int
	Status             uint8
	Verified           bool
	PayoutAmount       *big.Int
	SubmittedAt        *big.Int
	UpdatedAt          *big.Int
}

func (b *EthBackend) GetClaim(ctx context.Context, claimID string) (*models.LedgerClaim, error) {
	var out []any
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getClaim", claimID); err != nil {
		if isNotFound(err) {
			return nil, ErrClaimNotFound
		}
		return nil, fmt.Errorf("getClaim %s: %w", claimID, err)
	}
	if len(out) == 0 {
		return nil, ErrClaimNotFound
	}
	t, ok := abi.ConvertType(out[0], new(claimTuple)).(*claimTuple)
	if !ok {
		return nil, fmt.Errorf("getClaim %s: unexpected output %T", claimID, out[0])
	}
	return t.toModel(claimID)
}

func (t *claimTuple) toModel(requested string) (*models.LedgerClaim, error) {
	// Unknown ids come back as a zero-valued struct.
	if t.ClaimId == "" && bigOrZero(t.SubmittedAt) == 0 {
		return nil, ErrClaimNotFound
	}
	if t.Status > uint8(models.StatusRejected) {
		return nil, fmt.Errorf("getClaim %s: unknown status %d", requested, t.Status)
	}
	c := &models.LedgerClaim{
		ClaimID:            t.ClaimId,
		PolicyID:           t.PolicyId,
		UserID:             t.UserId,
		Description:        t.Description,
		EvidenceReferences: t.EvidenceReferences,
		ReportReference:    t.ReportReference,
		Severity:           int(min(bigOrZero(t.Severity), 100)),
		Status:             models.ClaimStatus(t.Status),
		Verified:           t.Verified,
		PayoutAmount:       int64(bigOrZero(t.PayoutAmount)),
		SubmittedAt:        unixTime(t.SubmittedAt),
		UpdatedAt:          unixTime(t.UpdatedAt),
	}
	if c.ClaimID == "" {
		c.ClaimID = requested
	}
	return c, nil
}

func bigOrZero(v *big.Int) uint64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if !v.IsUint64() || v.Uint64() > 1<<62 {
		return 1 << 62
	}
	return v.Uint64()
}

func unixTime(v *big.Int) time.Time {
	secs := bigOrZero(v)
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(int64(secs), 0).UTC()
}

func (b *EthBackend) Close() {
	b.client.Close()
}

// classifyRevert maps contract revert reasons onto the package sentinels.
func classifyRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "already evaluated", "not evaluable", "invalid status"):
		return fmt.Errorf("%w: %s", ErrAlreadyEvaluated, err)
	case containsAny(msg, "not authorized", "only oracle", "unauthorized", "accesscontrol"):
		return fmt.Errorf("%w: %s", ErrUnauthorized, err)
	case strings.Contains(msg, "execution reverted"):
		return fmt.Errorf("%w: %s", ErrReverted, err)
	default:
		return err
	}
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return containsAny(msg, "not found", "does not exist")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
