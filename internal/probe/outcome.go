// Package probe performs one attempt against a target URL and reduces the
// result to the outcome the retry controller acts on.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
)

type Kind int

const (
	// Transient: timeout, connection failure or 5xx. The chain retries.
	Transient Kind = iota
	// Success: 2xx.
	Success
	// ClientError: 4xx. The chain ends.
	ClientError
	// Unexpected: any other status (1xx, 3xx after redirects, >599).
	Unexpected
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Success:
		return "success"
	case ClientError:
		return "client_error"
	case Unexpected:
		return "unexpected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one probe. Status is 0 when no response arrived.
type Outcome struct {
	Kind   Kind
	Status int
	Reason string
}

func (o Outcome) String() string {
	if o.Status != 0 {
		return fmt.Sprintf("%s(%d)", o.Kind, o.Status)
	}
	if o.Reason != "" {
		return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
	}
	return o.Kind.String()
}

// Classify maps an HTTP status to an outcome.
func Classify(status int) Outcome {
	o := Outcome{Status: status}
	switch {
	case status >= 200 && status < 300:
		o.Kind = Success
	case status >= 400 && status < 500:
		o.Kind = ClientError
	case status >= 500 && status < 600:
		o.Kind = Transient
		o.Reason = "server error"
	default:
		o.Kind = Unexpected
	}
	return o
}

// TransientErr builds a Transient outcome from a transport error.
func TransientErr(err error) Outcome {
	return Outcome{Kind: Transient, Reason: err.Error()}
}

// ErrorOutcome classifies a request that got no response. Timeouts and
// network failures are transient; anything else (an unsupported scheme, a
// malformed URL, a TLS verification failure) will not heal by retrying.
func ErrorOutcome(err error) Outcome {
	// *url.Error itself implements net.Error; judge what it wraps.
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		err = uerr.Err
	}
	var (
		nerr net.Error
		oerr *net.OpError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return TransientErr(uerrOr(uerr, err))
	case errors.As(err, &oerr), errors.As(err, &nerr):
		return TransientErr(uerrOr(uerr, err))
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// Connection closed before a response.
		return TransientErr(uerrOr(uerr, err))
	default:
		return Outcome{Kind: Unexpected, Reason: uerrOr(uerr, err).Error()}
	}
}

func uerrOr(uerr *url.Error, err error) error {
	if uerr != nil {
		return uerr
	}
	return err
}

// Prober performs one attempt. The context carries the per-attempt timeout.
type Prober interface {
	Probe(ctx context.Context, url string) Outcome
}

// Func adapts a function to Prober.
type Func func(ctx context.Context, url string) Outcome

func (f Func) Probe(ctx context.Context, url string) Outcome { return f(ctx, url) }
