// Package errors implements a three-class error classification system for
// the relay node: Transient (temporary, retryable), Invalid (bad input,
// non-retryable), and Fatal (unrecoverable, stop processing).
//
// # Classification
//
//   - Transient: network timeouts, connection issues, temporary unavailability
//   - Invalid: malformed signals, validation failures, bad configuration
//   - Fatal: resource exhaustion, data corruption, unrecoverable states
//
// Classification works with errors.Is, errors.As, and wrapping chains. Use
// the standard error variables for known conditions and the Wrap family to
// attach component/method/action context:
//
//	if err := conn.Dial(); err != nil {
//	    return errors.WrapTransient(err, "UDPSender", "Send", "dial")
//	}
//
// All wrapping follows "component.method: action failed: %w" for consistent
// log parsing.
//
// # Retry policy
//
// RetryConfig and DefaultRetryConfig describe a retry policy in terms of
// this package's classification. ToRetryConfig bridges a RetryConfig to
// pkg/retry.Config, the form delivery's UDP sender executes against (the
// buffer manager's redelivery pass schedules its own retries):
//
//	cfg := errors.DefaultRetryConfig().ToRetryConfig()
//	err := retry.Do(ctx, cfg, func() error { return sender.Send(target, datagram) })
//
// # Thread safety
//
// Classification and wrapping are stateless and safe for concurrent use.
// Error variables are immutable; ClassifiedError is safe to share across
// goroutines once constructed.
package errors
