package authcore

import "context"

// ListSessions returns the signed-in devices of userID, most recently used
// first. The entry whose device matches currentDeviceID is marked Current.
func (e *Engine) ListSessions(ctx context.Context, userID int64, currentDeviceID string) ([]Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.refresh.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Current = sessions[i].DeviceID == currentDeviceID
	}
	return sessions, nil
}
