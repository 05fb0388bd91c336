package websocket

import (
	"net/http"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// QueryAuthenticator trusts identity from query parameters. It stands in for
// a real fronting auth layer behind the interfaces.Authenticator boundary.
type QueryAuthenticator struct{}

// Authenticate reads participant_id and role from the request URL.
func (QueryAuthenticator) Authenticate(r *http.Request) (interfaces.Identity, error) {
	participantID := r.URL.Query().Get("participant_id")
	role := r.URL.Query().Get("role")

	if !types.IsValidParticipantID(participantID) {
		return interfaces.Identity{}, interfaces.ErrNotAuthenticated
	}
	if role != types.RoleInstructor && role != types.RoleLearner {
		return interfaces.Identity{}, interfaces.ErrNotAuthenticated
	}
	return interfaces.Identity{ParticipantID: participantID, Role: role}, nil
}
