package domain

const (
	RiskStateNotReviewed = "not_reviewed"
	RiskStateCompliant   = "compliant"
	RiskStateFlagged     = "flagged"
	RiskStateSuspended   = "suspended"
)

type User struct {
	ID        string `db:"id"`
	Email     string `db:"email"`
	Name      string `db:"name"`
	Hash      string `db:"password_hash"`
	RiskState string `db:"risk_state"`
}

// Compliant reports whether the account passed risk review.
func (u User) Compliant() bool { return u.RiskState == RiskStateCompliant }
