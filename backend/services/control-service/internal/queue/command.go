// Package queue holds the outbound relay commands drained by field-device polling.
package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

const tokenPrefix = "RELAY"

// Command is one pending actuation.
type Command struct {
	RelayID    int64        `json:"relay_id"`
	Action     models.State `json:"action"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}

// Token renders the command in the device wire format, e.g. RELAY3_OFF.
func (c Command) Token() string {
	return fmt.Sprintf("%s%d_%s", tokenPrefix, c.RelayID, strings.ToUpper(string(c.Action)))
}

// ParseToken decodes a device token back into relay id and action.
func ParseToken(token string) (int64, models.State, error) {
	rest, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return 0, "", apperr.Invalid("token", "missing %s prefix in %q", tokenPrefix, token)
	}
	idPart, actionPart, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, "", apperr.Invalid("token", "malformed token %q", token)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", apperr.Invalid("token", "bad relay id in %q", token)
	}
	action := models.State(strings.ToLower(actionPart))
	if !action.Valid() {
		return 0, "", apperr.Invalid("token", "bad action in %q", token)
	}
	return id, action, nil
}
