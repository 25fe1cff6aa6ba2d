package service

import (
	"fmt"
	"strings"

	"github.com/choraleia/chatengine/pkg/db"
	"github.com/choraleia/chatengine/pkg/models"
)

const contextHeader = "# Context"

// AssembleContext renders the per-turn context block: caller entries in
// order, then the roster names, then the sender's name.
func AssembleContext(entries []models.ContextEntry, users []db.User, senderID string) (string, error) {
	var sender *db.User
	names := make([]string, len(users))
	for i := range users {
		names[i] = users[i].Name
		if sender == nil && users[i].ID == senderID {
			sender = &users[i]
		}
	}
	if sender == nil {
		return "", fmt.Errorf("%w: %s", ErrSenderNotFound, senderID)
	}

	lines := make([]string, 0, len(entries)+3)
	lines = append(lines, contextHeader)
	for _, e := range entries {
		lines = append(lines, e.Key+": "+e.Value)
	}
	lines = append(lines,
		"users: "+strings.Join(names, ", "),
		"username: "+sender.Name,
	)
	return strings.Join(lines, "\n"), nil
}
