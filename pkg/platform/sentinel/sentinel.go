package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and gateway adapters return
// these (optionally wrapped) so services can translate them into domain errors.
//
// - ErrNotFound: row or chat message does not exist
// - ErrConflict: row already exists or was modified concurrently
// - ErrUnavailable: backend temporarily unreachable
// - ErrPermissionDenied: the bot lacks the chat right for the action
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrUnavailable      = errors.New("unavailable")
	ErrPermissionDenied = errors.New("permission denied")
)
