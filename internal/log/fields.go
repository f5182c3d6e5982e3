// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID   = "session_id"
	FieldFingerprint = "fingerprint"
	FieldRequestID   = "request_id"
	FieldClientID    = "client_id"
	FieldTrackID     = "track_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"

	// Playback fields
	FieldDirection  = "direction"
	FieldLane       = "lane"
	FieldElapsedMs  = "elapsed_ms"
	FieldDurationMs = "duration_ms"
	FieldOrigin     = "origin"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Resolution / lookup fields
	FieldStep     = "step"
	FieldClientIP = "client_ip"
	FieldPath     = "path"
)
