package domain

import (
	"errors"
	"fmt"
)

// Error kinds, matched with errors.Is. Network and parse failures are
// subtypes of the generic data source failure; rate limiting is a subtype
// of the fetch failure so the orchestrator can single it out for backoff.
var (
	ErrDataSource  = errors.New("data source failure")
	ErrNetwork     = fmt.Errorf("%w: network", ErrDataSource)
	ErrParse       = fmt.Errorf("%w: parse", ErrDataSource)
	ErrDataFetch   = errors.New("financial data fetch failed")
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrDataFetch)
	ErrCalculation = errors.New("calculation failed")
	ErrCache       = errors.New("cache failure")
	ErrConfig      = errors.New("invalid configuration")
)
