package clients

// Reasons attached to *types.TransactionError.
const (
	// -----------------------------
	// SUBMISSION
	// -----------------------------
	ErrTransactionRejected                = "transaction_rejected_by_node"
	ErrTransactionSignerMissingSignatures = "transaction_signer_missing_signatures"

	// -----------------------------
	// CONFIRMATION
	// -----------------------------
	ErrTransactionFailedOnChain = "transaction_failed_on_chain"

	// -----------------------------
	// TRANSFER CONSTRUCTION
	// -----------------------------
	ErrInvalidRecipient = "invalid_exact_svm_payload_recipient"
	ErrInvalidAsset     = "invalid_exact_svm_payload_asset"
	ErrAssetMismatch    = "invalid_exact_svm_payload_asset_mismatch"
)
