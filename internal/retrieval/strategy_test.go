package retrieval

import (
	"errors"
	"testing"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Strategy
	}{
		{
			name:  "domain keyword wins",
			query: "what is HCBS",
			want:  StrategyEnhanced,
		},
		{
			name:  "domain keyword case insensitive",
			query: "medicaid waiver requirements",
			want:  StrategyEnhanced,
		},
		{
			name:  "domain keyword beats length",
			query: "explain in detail the full history of every compliance rule that applies to our organization today",
			want:  StrategyEnhanced,
		},
		{
			name:  "single token",
			query: "x",
			want:  StrategyKeyword,
		},
		{
			name:  "two tokens",
			query: "error codes",
			want:  StrategyKeyword,
		},
		{
			name:  "long query",
			query: "how do I configure the service to reconnect after the database restarts unexpectedly",
			want:  StrategyCombined,
		},
		{
			name:  "multi clause query",
			query: "backup procedures and restore procedures",
			want:  StrategyCombined,
		},
		{
			name:  "plain mid-length question",
			query: "how does retry backoff work",
			want:  StrategySemantic,
		},
		{
			name:  "domain term as substring does not match",
			query: "the cmsmith account setup",
			want:  StrategySemantic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Select(tt.query); got != tt.want {
				t.Errorf("Select(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestSelectDeterministic(t *testing.T) {
	query := "what is HCBS"
	first := Select(query)
	for i := 0; i < 10; i++ {
		if got := Select(query); got != first {
			t.Fatalf("Select(%q) changed between calls: %q then %q", query, first, got)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input   string
		want    Strategy
		wantErr bool
	}{
		{input: "semantic", want: StrategySemantic},
		{input: "keyword", want: StrategyKeyword},
		{input: "hybrid", want: StrategyHybrid},
		{input: "enhanced", want: StrategyEnhanced},
		{input: "combined", want: StrategyCombined},
		{input: "SEMANTIC", want: StrategySemantic},
		{input: " keyword ", want: StrategyKeyword},
		{input: "fulltext", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStrategy(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownStrategy) {
					t.Fatalf("ParseStrategy(%q) error = %v, want ErrUnknownStrategy", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStrategy(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseStrategy(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
