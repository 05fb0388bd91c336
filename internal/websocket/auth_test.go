package websocket

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

func TestQueryAuthenticator(t *testing.T) {
	auth := QueryAuthenticator{}

	r := httptest.NewRequest("GET", "/ws?participant_id=ada&role=learner&session_id=s1", nil)
	identity, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Identity{ParticipantID: "ada", Role: types.RoleLearner}, identity)

	cases := map[string]string{
		"missing participant": "/ws?role=learner",
		"bad participant":     "/ws?participant_id=a%20b&role=learner",
		"missing role":        "/ws?participant_id=ada",
		"unknown role":        "/ws?participant_id=ada&role=admin",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest("GET", target, nil)
			_, err := auth.Authenticate(r)
			assert.ErrorIs(t, err, interfaces.ErrNotAuthenticated)
		})
	}
}
