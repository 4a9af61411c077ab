package errors

import "strings"

// ValidateAddr validates a listen address of the form host:port or :port.
func ValidateAddr(addr string) error {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 || i == len(addr)-1 {
		return New(ErrCodeInvalidInput, "listen address %q must end in :port", addr)
	}
	for _, r := range addr[i+1:] {
		if r < '0' || r > '9' {
			return New(ErrCodeInvalidInput, "listen address %q has a non-numeric port", addr)
		}
	}
	return nil
}
