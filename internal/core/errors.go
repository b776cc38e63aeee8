package core

import "github.com/rotisserie/eris"

var (
	ErrUnknownPartner   = eris.New("unknown partner")
	ErrUnknownCriterion = eris.New("unknown criterion")
	ErrUnknownField     = eris.New("unknown field")
	// ErrCombinedReadOnly is returned for writes that only make sense on an
	// individual partner: bookmarks, chat, and cells addressed directly.
	ErrCombinedReadOnly  = eris.New("combined view is read-only for this operation")
	ErrInvalidMultiplier = eris.New("multiplier must be numeric")
	ErrInvalidPage       = eris.New("page number must be 1 or greater")
	ErrNotLoaded         = eris.New("session has not been loaded")

	// ErrGenerationUnavailable marks an HTTP 503 from the generation service.
	// Retrying later is expected to work.
	ErrGenerationUnavailable = eris.New("generation service is temporarily unavailable, please try again in a few moments")
	ErrGenerationFailed      = eris.New("generation request failed")
	ErrMalformedGeneration   = eris.New("generated response did not contain the expected JSON object")
	ErrLLMNotConfigured      = eris.New("LLM provider is not configured")
	ErrSearchFailed          = eris.New("search request failed")
)
