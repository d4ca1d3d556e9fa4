package acs

import "errors"

var (
	// ErrInvalidChannelList means no usable entry remained after sentinel removal
	ErrInvalidChannelList = errors.New("invalid channel list")
	// ErrMalformedRequest covers conflicting width/mode flags and bad lists
	ErrMalformedRequest = errors.New("malformed request")
	// ErrConcurrencyInconsistent means a forced channel failed its sanity check
	ErrConcurrencyInconsistent = errors.New("concurrency inconsistency")
	// ErrNoUsableChannel means filtering left nothing and no fallback applies
	ErrNoUsableChannel = errors.New("no usable channel")
	// ErrSelectionInProgress rejects a request while another awaits its selector
	ErrSelectionInProgress = errors.New("selection in progress")
	ErrUnknownInterface    = errors.New("unknown interface")
	// ErrStaleCompletion is returned for a selector callback that lost its request
	ErrStaleCompletion = errors.New("stale completion")
	ErrSelectorTimeout = errors.New("selector timed out")
	ErrUnknownJob      = errors.New("unknown selection job")
)
