package errors

import (
	"testing"
)

func TestValidateAddr(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{":8080", false},
		{"localhost:9000", false},
		{"0.0.0.0:80", false},
		{"8080", true},
		{"localhost:", true},
		{":http", true},
	}

	for _, tt := range tests {
		if err := ValidateAddr(tt.input); (err != nil) != tt.wantErr {
			t.Errorf("ValidateAddr(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
