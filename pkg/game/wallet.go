package game

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// WalletEndpoints are the partner's seamless wallet URLs and the secret
// callouts are signed with.
type WalletEndpoints struct {
	DebitURL    string
	CreditURL   string
	RollbackURL string
	Secret      string
}

// URLFor returns the endpoint serving txType.
func (endpoints WalletEndpoints) URLFor(txType WalletTransactionType) string {
	switch txType {
	case WalletTransactionDebit:
		return endpoints.DebitURL
	case WalletTransactionCredit:
		return endpoints.CreditURL
	case WalletTransactionRollback:
		return endpoints.RollbackURL
	default:
		return ""
	}
}

// WalletOperation is one instruction sent to the partner wallet.
type WalletOperation struct {
	TxRef            TxRef
	Type             WalletTransactionType
	OriginalTxRef    TxRef
	PartnerID        PartnerID
	ExternalPlayerID string
	SessionID        SessionID
	Amount           AmountCents
	Currency         Currency
	Endpoints        WalletEndpoints
}

// WalletResult is a confirmed wallet response.
type WalletResult struct {
	TxRef   TxRef
	Balance AmountCents
}

// WalletGateway moves money on the partner side. Implementations must reuse
// op.TxRef for every retry of the same operation.
//
// Debit is attempted once; a decline returns ErrInsufficientFunds or
// ErrWalletDeclined and an unanswered call ErrWalletTimeout or ErrWalletUnavailable.
// Credit and Rollback retry with backoff and return ErrReconciliationRequired
// once retries are exhausted.
type WalletGateway interface {
	Debit(ctx context.Context, operation WalletOperation) (WalletResult, error)
	Credit(ctx context.Context, operation WalletOperation) (WalletResult, error)
	Rollback(ctx context.Context, operation WalletOperation) (WalletResult, error)
}

// MintTxRef returns a fresh reference for a new logical wallet operation.
func MintTxRef(txType WalletTransactionType) TxRef {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return TxRef{value: txRefPrefix + txRefDelimiter + strings.ToUpper(txType.String()) + txRefDelimiter + random}
}
