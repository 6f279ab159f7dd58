package types

import "errors"

// Error taxonomy shared across services. Callers match with errors.Is;
// pkg/response maps these onto HTTP status codes.
var (
	// ErrValidation indicates bad or missing caller input. No state was changed.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an absent order or balance key.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance indicates a ledger decrement that would go
	// negative. The balance is left unchanged.
	ErrInsufficientBalance = errors.New("insufficient pool balance")

	// ErrUnsupportedAsset indicates no canonical settlement asset is
	// configured for the requested chain.
	ErrUnsupportedAsset = errors.New("unsupported settlement asset")

	// ErrNoRouteAvailable indicates the route aggregator found no swap path.
	ErrNoRouteAvailable = errors.New("no route available")

	// ErrConfirmationTimeout indicates the chain did not confirm a
	// transaction within the configured bound.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")

	// ErrUpstream indicates a gateway, aggregator or rate provider call failed.
	ErrUpstream = errors.New("upstream call failed")

	// ErrConcurrentExecutionSkipped is benign: another attempt already
	// owns this order.
	ErrConcurrentExecutionSkipped = errors.New("order already being processed")
)
