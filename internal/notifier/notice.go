package notifier

import "fmt"

// Kind is the terminal outcome a notice reports.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindClientError Kind = "client_error"
	KindExhausted   Kind = "exhausted"
	KindUnexpected  Kind = "unexpected"
)

// Notice is one terminal message for one job.
type Notice struct {
	JobID  string `json:"job_id"`
	Target string `json:"target"`
	URL    string `json:"url"`
	Kind   Kind   `json:"kind"`
	// Status is the last HTTP status seen, zero when there was none.
	Status int `json:"status,omitempty"`
}

// Render returns the subject and body sent to the requester.
func Render(n Notice) (subject, body string) {
	switch n.Kind {
	case KindSuccess:
		return fmt.Sprintf("Up Service: URL %s responding successfully!", n.URL),
			fmt.Sprintf("URL %s is responding with the status %d which indicates success! Try it again yourself now.", n.URL, n.Status)
	case KindClientError:
		return fmt.Sprintf("Up Service: URL %s responding with a client error", n.URL),
			fmt.Sprintf("URL %s is responding with the status %d which indicates a client error. No further attempts to reach this URL will be made.", n.URL, n.Status)
	case KindExhausted:
		return fmt.Sprintf("Up Service: URL %s still down", n.URL),
			fmt.Sprintf("URL %s still appears to be down and all tries have been exhausted. No further attempts to reach this URL will be made.", n.URL)
	default:
		return fmt.Sprintf("Up Service: URL %s responding unexpectedly", n.URL),
			fmt.Sprintf("URL %s is responding in an unexpected way. No further attempts to reach this URL will be made.", n.URL)
	}
}
