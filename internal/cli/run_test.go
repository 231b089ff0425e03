package cli

import (
	"reflect"
	"testing"
)

func TestSplitHosts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "proxy.internal", []string{"proxy.internal"}},
		{"padded", " proxy.internal ", []string{"proxy.internal"}},
		{"multiple", "proxy.internal, gateway.corp", []string{"proxy.internal", "gateway.corp"}},
		{"stray commas", ",proxy.internal,,", []string{"proxy.internal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitHosts(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("splitHosts(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
