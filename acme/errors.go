package acme

import "fmt"

// InvalidKeyTypeError indicates a key specification string that could not be
// parsed into a supported algorithm and size.
type InvalidKeyTypeError struct {
	Spec string
}

func (e InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("invalid key type %q: expected {rsa|ec}[-bits]", e.Spec)
}

// InvalidArgumentError indicates a caller-supplied argument that failed
// validation, e.g. a malformed timestamp or an identifier with more than one
// wildcard.
type InvalidArgumentError struct {
	Reason string
}

func (e InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}

// InvalidOrderStatusError indicates a recovered order whose remote status
// makes it unusable.
type InvalidOrderStatusError struct {
	OrderURL string
	Status   string
}

func (e InvalidOrderStatusError) Error() string {
	return fmt.Sprintf("order %q has unusable status %q", e.OrderURL, e.Status)
}

// CreateFailedError indicates the ACME server rejected a new-order request or
// returned a malformed creation response.
type CreateFailedError struct {
	Reason string
}

func (e CreateFailedError) Error() string {
	return "order creation failed: " + e.Reason
}

// InvalidConfigurationError indicates an operation was attempted without the
// persisted artifacts it requires, e.g. revocation without a certificate file.
type InvalidConfigurationError struct {
	Reason string
}

func (e InvalidConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}
