package domain

// Outcome — итог авторизации запроса на покупку.
type Outcome string

const (
	OutcomeApproved        Outcome = "approved"
	OutcomeRejected        Outcome = "rejected"
	OutcomePendingApproval Outcome = "pending_approval"
)

// Decision — типизированный результат SpendingAuthorizer. Policy-отказы —
// это значения, а не ошибки: за границу авторизатора они не "вылетают".
type Decision struct {
	Outcome Outcome `json:"outcome"`
	// Код отказа (Code*) либо причина эскалации (Reason*)
	ReasonCode string `json:"reason_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

func Approved() Decision {
	return Decision{Outcome: OutcomeApproved}
}

func Rejected(code, message string) Decision {
	return Decision{Outcome: OutcomeRejected, ReasonCode: code, Message: message}
}

func Escalated(reason, message string) Decision {
	return Decision{Outcome: OutcomePendingApproval, ReasonCode: reason, Message: message}
}
