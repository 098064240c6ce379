package types

const (
	DefaultBaseURL = "https://oraclesentinel.xyz"
	DefaultRPCURL  = "https://api.mainnet-beta.solana.com"
	DevnetRPCURL   = "https://api.devnet.solana.com"

	// USDC on mainnet.
	USDCMint     = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDecimals = 6

	DefaultComputeUnitLimit   = 20_000
	DefaultComputeUnitPriceMu = 1 // micro-lamports per compute unit

	// DefaultHolderThreshold is the gating-token balance that grants free access.
	DefaultHolderThreshold uint64 = 1000
)

// Header names exchanged with the API.
const (
	HeaderPayment       = "X-Payment"
	HeaderHolderProof   = "X-Holder-Proof"
	HeaderWalletAddress = "X-Wallet-Address"
	HeaderUserAgent     = "User-Agent"
)

// NetworkCapability describes a cluster the client can settle on.
type NetworkCapability struct {
	Network     Network
	X402Version int
	Scheme      PaymentScheme
	RPCURL      string
}

// SupportedNetworks lists the clusters payments can settle on.
func SupportedNetworks() []NetworkCapability {
	return []NetworkCapability{
		{Network: NetworkSolanaMainnet, X402Version: int(X402Version2), Scheme: SchemeExact, RPCURL: DefaultRPCURL},
		{Network: NetworkSolanaDevnet, X402Version: int(X402Version2), Scheme: SchemeExact, RPCURL: DevnetRPCURL},
	}
}
