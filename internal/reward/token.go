package reward

import (
	"github.com/google/uuid"
)

// tokenNamespace scopes idempotency tokens to lockstep rewards.
var tokenNamespace = uuid.MustParse("6f1c2a4e-9b3d-5e7f-a1c8-2d4b6e8f0a13")

// Token derives the idempotency token for a (session, participant) pair.
// The same pair always yields the same token.
func Token(sessionID, participantID string) string {
	return uuid.NewSHA1(tokenNamespace, []byte(sessionID+":"+participantID)).String()
}
