package notifier

import "errors"

// Error kinds shared by every component. Wrap them with fmt.Errorf("...: %w", Err...)
// and test with errors.Is.
var (
	ErrInvalidIdentity         = errors.New("invalid identity")
	ErrInvalidURL              = errors.New("invalid url")
	ErrInvalidInput            = errors.New("invalid input")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrNotFound                = errors.New("not found")
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
	ErrPrimaryStoreUnavailable = errors.New("primary store unavailable")
	ErrDeliveryFailed          = errors.New("delivery failed")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidIdentity, "INVALID_IDENTITY"},
	{ErrInvalidURL, "INVALID_URL"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrUpstreamUnavailable, "UPSTREAM_UNAVAILABLE"},
	{ErrPrimaryStoreUnavailable, "PRIMARY_STORE_UNAVAILABLE"},
	{ErrDeliveryFailed, "DELIVERY_FAILED"},
}

// Code returns the wire code for the first error kind found in err's chain,
// or "INTERNAL" when err carries no known kind.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
