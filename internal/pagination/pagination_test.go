package pagination

import (
	"net/url"
	"testing"
)

func TestFromQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		opts  []Option
		want  Params
	}{
		{name: "defaults", query: "", want: Params{Page: 1, Limit: 25, Offset: 0}},
		{name: "explicit", query: "page=3&limit=10", want: Params{Page: 3, Limit: 10, Offset: 20}},
		{name: "capped", query: "limit=1000", want: Params{Page: 1, Limit: MaxLimit, Offset: 0}},
		{name: "invalid values", query: "page=-2&limit=abc", want: Params{Page: 1, Limit: 25, Offset: 0}},
		{name: "custom default", query: "page=2", opts: []Option{WithDefaultLimit(5)}, want: Params{Page: 2, Limit: 5, Offset: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery: %v", err)
			}
			if got := FromQuery(q, tt.opts...); got != tt.want {
				t.Fatalf("FromQuery(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	p := Params{Page: 2, Limit: 10, Offset: 10}
	if got := p.Describe(20); got.HasNext {
		t.Fatalf("last page reported HasNext: %+v", got)
	}
	if got := p.Describe(21); !got.HasNext || got.Total != 21 {
		t.Fatalf("Describe(21) = %+v", got)
	}
}
