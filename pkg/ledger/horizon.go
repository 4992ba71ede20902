package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"github.com/arko05roy/TVA-Protocol-sub002/pkg/amount"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// defaultBaseFee is used when fee stats cannot be fetched.
const defaultBaseFee = 100

// HorizonConfig holds Horizon gateway configuration.
type HorizonConfig struct {
	HorizonURL        string
	NetworkPassphrase string
	RequestTimeout    time.Duration
}

// HorizonGateway implements Gateway against a Horizon server.
type HorizonGateway struct {
	client     *horizonclient.Client
	passphrase string
	log        *zap.Logger
}

// NewHorizonGateway creates a Horizon-backed gateway.
func NewHorizonGateway(cfg HorizonConfig, log *zap.Logger) *HorizonGateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HorizonGateway{
		client: &horizonclient.Client{
			HorizonURL: cfg.HorizonURL,
			HTTP:       &http.Client{Timeout: timeout},
		},
		passphrase: cfg.NetworkPassphrase,
		log:        log,
	}
}

// classify maps a Horizon error to the gateway taxonomy: 404 is a definitive
// not-found, 5xx and transport failures are transient, everything else is a
// definitive rejection.
func classify(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if herr := horizonclient.GetError(err); herr != nil {
		switch {
		case herr.Problem.Status == http.StatusNotFound:
			return notFound
		case herr.Problem.Status >= http.StatusInternalServerError:
			return &TransientError{Err: err}
		default:
			return err
		}
	}
	// No structured problem: transport-level failure (timeout, refused
	// connection, reset). Retryable.
	return &TransientError{Err: err}
}

// FetchAccount implements Gateway.
func (g *HorizonGateway) FetchAccount(ctx context.Context, accountID string) (*AccountDetails, error) {
	acct, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	if err != nil {
		return nil, classify(err, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID))
	}

	seq, err := acct.GetSequenceNumber()
	if err != nil {
		return nil, fmt.Errorf("failed to parse account sequence: %w", err)
	}

	details := &AccountDetails{
		ID:       acct.AccountID,
		Sequence: seq,
		Thresholds: Thresholds{
			Low:    int32(acct.Thresholds.LowThreshold),
			Medium: int32(acct.Thresholds.MedThreshold),
			High:   int32(acct.Thresholds.HighThreshold),
		},
	}
	for _, b := range acct.Balances {
		details.Balances = append(details.Balances, Balance{
			Type:   b.Type,
			Code:   b.Code,
			Issuer: b.Issuer,
			Amount: b.Balance,
		})
	}
	for _, s := range acct.Signers {
		details.Signers = append(details.Signers, AccountSigner{
			Key:    s.Key,
			Type:   s.Type,
			Weight: s.Weight,
		})
	}

	return details, nil
}

// RecentTransactions implements Gateway.
func (g *HorizonGateway) RecentTransactions(ctx context.Context, accountID string, limit int) ([]TransactionRecord, error) {
	page, err := g.client.Transactions(horizonclient.TransactionRequest{
		ForAccount: accountID,
		Limit:      uint(limit),
		Order:      horizonclient.OrderDesc,
	})
	if err != nil {
		return nil, classify(err, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID))
	}

	records := make([]TransactionRecord, 0, len(page.Embedded.Records))
	for _, tx := range page.Embedded.Records {
		records = append(records, TransactionRecord{
			Hash:       tx.Hash,
			Ledger:     tx.Ledger,
			MemoType:   tx.MemoType,
			Memo:       tx.Memo,
			Successful: tx.Successful,
		})
	}
	return records, nil
}

// horizonEnvelope wraps a built transaction. Sign returns a fresh envelope;
// the wrapped transaction is never mutated.
type horizonEnvelope struct {
	tx         *txnbuild.Transaction
	passphrase string
}

func (e *horizonEnvelope) Hash() (string, error) {
	return e.tx.HashHex(e.passphrase)
}

func (e *horizonEnvelope) OperationCount() int {
	return len(e.tx.Operations())
}

func (e *horizonEnvelope) SignatureCount() int {
	return len(e.tx.Signatures())
}

// BuildTransferEnvelope implements Gateway. One payment operation per
// transfer, the batch memo attached to the whole transaction, and the
// sequence taken verbatim from the plan.
func (g *HorizonGateway) BuildTransferEnvelope(ctx context.Context, spec EnvelopeSpec) (Envelope, error) {
	ops := make([]txnbuild.Operation, 0, len(spec.Transfers))
	for _, tr := range spec.Transfers {
		amt, err := amount.FormatLedgerAmount(tr.Amount)
		if err != nil {
			return nil, fmt.Errorf("withdrawal %s: %w", tr.WithdrawalID, err)
		}

		var asset txnbuild.Asset = txnbuild.NativeAsset{}
		if tr.Issuer != types.NativeIssuer {
			asset = txnbuild.CreditAsset{Code: tr.AssetCode, Issuer: tr.Issuer}
		}

		ops = append(ops, &txnbuild.Payment{
			Destination: tr.Destination,
			Amount:      amt,
			Asset:       asset,
		})
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{
			AccountID: spec.SourceAccount,
			Sequence:  spec.Sequence,
		},
		IncrementSequenceNum: false,
		Operations:           ops,
		BaseFee:              spec.BaseFee,
		Memo:                 txnbuild.MemoHash(spec.Memo),
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewInfiniteTimeout(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	return &horizonEnvelope{tx: tx, passphrase: g.passphrase}, nil
}

// Submit implements Gateway.
func (g *HorizonGateway) Submit(ctx context.Context, env Envelope) (*SubmitResult, error) {
	henv, ok := env.(*horizonEnvelope)
	if !ok {
		return nil, fmt.Errorf("envelope was not built by this gateway")
	}

	resp, err := g.client.SubmitTransaction(henv.tx)
	if err != nil {
		return nil, classify(err, err)
	}

	g.log.Info("transaction submitted",
		zap.String("hash", resp.Hash),
		zap.Int32("ledger", resp.Ledger),
	)
	return &SubmitResult{Hash: resp.Hash, Ledger: resp.Ledger}, nil
}

// TransactionStatus implements Gateway. A missing transaction is still
// pending, not an error.
func (g *HorizonGateway) TransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	tx, err := g.client.TransactionDetail(hash)
	if err != nil {
		if herr := horizonclient.GetError(err); herr != nil && herr.Problem.Status == http.StatusNotFound {
			return TxStatusPending, nil
		}
		return "", classify(err, err)
	}
	if tx.Successful {
		return TxStatusSuccess, nil
	}
	return TxStatusFailed, nil
}

// BaseFee implements Gateway.
func (g *HorizonGateway) BaseFee(ctx context.Context) int64 {
	stats, err := g.client.FeeStats()
	if err != nil || stats.LastLedgerBaseFee <= 0 {
		return defaultBaseFee
	}
	return stats.LastLedgerBaseFee
}

// KeypairSigner signs envelopes with a ledger keypair.
type KeypairSigner struct {
	kp         *keypair.Full
	passphrase string
}

// NewKeypairSigner parses a signer seed.
func NewKeypairSigner(seed, networkPassphrase string) (*KeypairSigner, error) {
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer seed: %w", err)
	}
	return &KeypairSigner{kp: kp, passphrase: networkPassphrase}, nil
}

// Address implements Signer.
func (s *KeypairSigner) Address() string {
	return s.kp.Address()
}

// Sign implements Signer.
func (s *KeypairSigner) Sign(env Envelope) (Envelope, error) {
	henv, ok := env.(*horizonEnvelope)
	if !ok {
		return nil, fmt.Errorf("envelope was not built by a horizon gateway")
	}
	signed, err := henv.tx.Sign(s.passphrase, s.kp)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return &horizonEnvelope{tx: signed, passphrase: henv.passphrase}, nil
}
