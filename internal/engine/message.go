package engine

// MessageKind discriminates rendered notification payloads.
type MessageKind string

const (
	MessageEmail MessageKind = "email"
	MessageSMS   MessageKind = "sms"
)

// Message is a rendered notification produced while writing activities.
// The explanation trail records every stage that contributed to producing
// it; it exists for auditability only and never drives control flow.
type Message struct {
	Kind         MessageKind `json:"kind"`
	CaseID       string      `json:"case_id"`
	Template     string      `json:"template"`
	LegacyCode   string      `json:"legacy_code,omitempty"`
	To           string      `json:"to,omitempty"`
	Subject      string      `json:"subject,omitempty"`
	Body         string      `json:"body"`
	Explanations []string    `json:"explanations,omitempty"`
}

// AddExplanation appends one entry to the audit trail.
func (m *Message) AddExplanation(entry string) {
	m.Explanations = append(m.Explanations, entry)
}

func explainAll(msgs []Message, entry string) []Message {
	for i := range msgs {
		msgs[i].AddExplanation(entry)
	}
	return msgs
}
