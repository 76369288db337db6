package usecase

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"model-router/internal/domain/entity"
)

const fingerprintLength = 32

// Fingerprint identifies a request for dedup and caching:
// userID:modelID:content, digested so long prompts sharing a prefix do not collide.
func Fingerprint(userID, modelID string, messages []entity.Message) string {
	if userID == "" {
		userID = "anonymous"
	}
	if modelID == "" {
		modelID = "auto"
	}

	var b strings.Builder
	b.WriteString(userID)
	b.WriteByte(':')
	b.WriteString(modelID)
	b.WriteByte(':')
	for _, m := range messages {
		b.WriteString(m.Content)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:fingerprintLength]
}

// RequestFingerprint is Fingerprint applied to a request as the caller sent it.
func RequestFingerprint(req entity.GenerateRequest) string {
	return Fingerprint(req.UserID(), req.Model, req.Messages)
}
