package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "127.0.0.1:8080"},
		{"garbage", "127.0.0.1:8080"},
		{"0.0.0.0:9000", "127.0.0.1:9000"},
		{":9000", "127.0.0.1:9000"},
		{"[::]:9000", "127.0.0.1:9000"},
		{"10.0.0.5:8443", "10.0.0.5:8443"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeAddr(tt.raw))
		})
	}
}
