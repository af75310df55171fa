package services

import "errors"

var (
	// ErrTransient is a network or upstream failure worth retrying
	ErrTransient = errors.New("transient upstream failure")
	// ErrAuthExpired means the catalog rejected a freshly refreshed token
	ErrAuthExpired = errors.New("catalog authorization expired")
	// ErrNotFound is a catalog 404
	ErrNotFound = errors.New("catalog resource not found")
	// ErrGeocodeNotFound means an address did not resolve to coordinates
	ErrGeocodeNotFound = errors.New("address not found")
	// ErrNoPizzerias means there is nothing to deliver from
	ErrNoPizzerias = errors.New("no pizzerias available")
	// ErrUnknownState is logged when a persisted state is not recognized
	ErrUnknownState = errors.New("unknown session state")
)
