package game

const (
	operationStart      = "start"
	operationFlip       = "flip"
	operationCashout    = "cashout"
	operationExpire     = "expire"
	operationRollback   = "rollback"
	operationSettlement = "settlement"
	operationSimulation = "simulation"
	operationReconcile  = "reconcile"
	operationVerify     = "verify"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	txRefPrefix    = "CF"
	txRefDelimiter = "-"

	errorSubjectSession    = "session"
	errorSubjectWallet     = "wallet"
	errorSubjectSettlement = "settlement"
	errorSubjectSimulation = "simulation"
	errorCodeDebit         = "debit"
	errorCodeCredit        = "credit"
	errorCodeRollback      = "rollback"
	errorCodePersist       = "persist"
	errorCodeResolve       = "resolve"
	errorCodeState         = "state"
	errorCodeGenerate      = "generate"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// MinExpectedPayoutCents is the smallest calibrated return per flip at the
// minimum stake. Below it cent rounding moves the payout table off its target.
const MinExpectedPayoutCents = 10
