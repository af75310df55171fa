package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/slicebot/slicebot-backend/internal/models"
)

func encodeContext(sc *models.SessionContext) (string, error) {
	if sc == nil {
		sc = &models.SessionContext{}
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("encode session context: %w", err)
	}
	return string(raw), nil
}

// decodeContext never fails: an unreadable context is logged and replaced by
// an empty one, which the next save overwrites
func decodeContext(id models.UserIdentity, raw string) *models.SessionContext {
	sc := &models.SessionContext{}
	if raw == "" {
		return sc
	}
	if err := json.Unmarshal([]byte(raw), sc); err != nil {
		slog.Warn("discarding unreadable session context", "user", id, "error", err)
		return &models.SessionContext{}
	}
	return sc
}
