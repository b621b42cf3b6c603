package position

import "errors"

var (
	// ErrPositionExists is returned when opening a symbol that already has
	// an active position.
	ErrPositionExists = errors.New("position: active position already exists for symbol")

	// ErrNoActivePosition is returned when closing or updating a symbol
	// with no active position.
	ErrNoActivePosition = errors.New("position: no active position for symbol")

	// ErrCloseInProgress is returned when a close is requested while a
	// previous close for the same position has not finished.
	ErrCloseInProgress = errors.New("position: close already in progress")

	// ErrMaxPositionsReached is returned when the concurrent position cap
	// would be exceeded.
	ErrMaxPositionsReached = errors.New("position: maximum concurrent positions reached")

	// ErrTradingHalted is returned when the daily loss limit has disabled
	// new opens for the rest of the UTC day.
	ErrTradingHalted = errors.New("position: trading halted by daily loss limit")

	// ErrSymbolNotConfigured is returned when no active strategy config
	// exists for the symbol.
	ErrSymbolNotConfigured = errors.New("position: symbol has no active strategy config")

	// ErrShortNotAllowed is returned when a Sell open is attempted on a
	// spot pair.
	ErrShortNotAllowed = errors.New("position: short positions require a futures pair")

	// ErrStopNotTighter is returned when a stop-loss update would loosen
	// the stop. Stops only ever tighten.
	ErrStopNotTighter = errors.New("position: stop-loss update must tighten the stop")

	// ErrNotEmergency is returned when an entry price is supplied for a
	// position that already has one.
	ErrNotEmergency = errors.New("position: position already has an entry price")
)
