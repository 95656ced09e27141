package auction

import "errors"

// State-conflict outcomes. These are expected, recoverable-by-caller results,
// mapped to HTTP at the handler layer; they never indicate a server fault.
var (
	// ErrStaleLot is returned when a bid targets a lot that is not active.
	ErrStaleLot = errors.New("lot is not active")
	// ErrBidTooLow is returned when a bid does not exceed the current price.
	ErrBidTooLow = errors.New("bid amount must exceed current price")
	// ErrAlreadyFinalized is returned when an operation targets a sold or completed lot.
	ErrAlreadyFinalized = errors.New("lot already finalized")
	// ErrNoBuyNowPrice is returned by BuyNow on a lot that has no buy-now price.
	ErrNoBuyNowPrice = errors.New("lot has no buy-now price")
	// ErrNotQueued is returned when activating a lot that is not queued.
	ErrNotQueued = errors.New("lot is not queued")
	// ErrCountdownRunning is returned when starting a countdown that is already running.
	ErrCountdownRunning = errors.New("countdown already running")
	// ErrNoCountdown is returned when stopping or extending a countdown that does not exist.
	ErrNoCountdown = errors.New("no countdown for lot")
)
