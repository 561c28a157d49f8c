package fermenter

import "errors"

var (
	ErrInvalidState        = errors.New("invalid control state")
	ErrInvalidTempRange    = errors.New("temperature range must be strictly positive")
	ErrInvalidDataInterval = errors.New("data interval must be strictly positive")
	ErrPinConflict         = errors.New("heater and cooler pins must differ")
)
