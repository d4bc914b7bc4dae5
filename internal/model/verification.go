package model

import "time"

// VerificationRecord links a pending EmailAccount to the hash of the token
// mailed to it. There is at most one record per AccountID.
type VerificationRecord struct {
	AccountID          string    `json:"accountId"`
	AccountEmail       string    `json:"accountEmail"`
	AccountDisplayName string    `json:"accountDisplayName"`
	ProofHash          string    `json:"-"` // bcrypt hash, never the plaintext token
	CreatedAt          time.Time `json:"createdAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

// IsExpired reports whether the record is past its deadline at now.
// A record is still live at exactly ExpiresAt.
func (r *VerificationRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
