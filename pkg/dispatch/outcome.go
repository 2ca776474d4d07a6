package dispatch

// FailureClass classifies why a token could not be delivered to.
type FailureClass string

const (
	ClassNone            FailureClass = ""
	ClassUnregistered    FailureClass = "unregistered"
	ClassInvalidArgument FailureClass = "invalid_argument"
	ClassQuotaExceeded   FailureClass = "quota_exceeded"
	ClassUnavailable     FailureClass = "unavailable"
	ClassInternal        FailureClass = "internal"
	ClassTransport       FailureClass = "transport"
	ClassUnknown         FailureClass = "unknown"
)

// Permanent reports whether the token behind this failure will never
// become deliverable again and should be removed from its owner.
func (c FailureClass) Permanent() bool {
	return c == ClassUnregistered || c == ClassInvalidArgument
}

// Outcome is the delivery result for one token.
type Outcome struct {
	Token   string
	Success bool
	Class   FailureClass
	Err     error
}

// Summary aggregates outcomes. Aggregation is order independent.
type Summary struct {
	Sent      int
	Failed    int
	Permanent []string
}

// Summarize counts successes and failures and lists the permanently
// invalid tokens in outcome order.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		if o.Success {
			s.Sent++
			continue
		}
		s.Failed++
		if o.Class.Permanent() {
			s.Permanent = append(s.Permanent, o.Token)
		}
	}
	return s
}
