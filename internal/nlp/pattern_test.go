package nlp

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func analyze(t *testing.T, text string, entityTypes ...string) []Match {
	t.Helper()
	backend := NewPatternBackend(zap.NewNop())
	matches, err := backend.Analyze(context.Background(), text, entityTypes)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	return matches
}

func hasMatch(matches []Match, entityType, span string, text string) bool {
	for _, m := range matches {
		if m.EntityType == entityType && text[m.Start:m.End] == span {
			return true
		}
	}
	return false
}

func TestPatternBackend(t *testing.T) {
	t.Run("Email", func(t *testing.T) {
		text := "reach me at jane.doe+test@example.co.uk anytime"
		matches := analyze(t, text, "EMAIL_ADDRESS")
		if !hasMatch(matches, "EMAIL_ADDRESS", "jane.doe+test@example.co.uk", text) {
			t.Errorf("Email not detected: %+v", matches)
		}
	})

	t.Run("PhoneSeparated", func(t *testing.T) {
		text := "call 555-123-4567 today"
		matches := analyze(t, text, "PHONE_NUMBER")
		if !hasMatch(matches, "PHONE_NUMBER", "555-123-4567", text) {
			t.Errorf("Separated phone not detected: %+v", matches)
		}
	})

	t.Run("SSN", func(t *testing.T) {
		text := "ssn 123-45-6789 on file"
		matches := analyze(t, text, "US_SSN")
		if !hasMatch(matches, "US_SSN", "123-45-6789", text) {
			t.Errorf("SSN not detected: %+v", matches)
		}
	})

	t.Run("CreditCardLuhn", func(t *testing.T) {
		// 4111111111111111 passes Luhn, 4111111111111112 does not.
		valid := analyze(t, "card 4111 1111 1111 1111", "CREDIT_CARD")
		if len(valid) != 1 {
			t.Errorf("Valid card not detected: %+v", valid)
		}
		invalid := analyze(t, "card 4111 1111 1111 1112", "CREDIT_CARD")
		if len(invalid) != 0 {
			t.Errorf("Luhn-failing card detected: %+v", invalid)
		}
	})

	t.Run("IPAddress", func(t *testing.T) {
		text := "from 192.168.1.77"
		if matches := analyze(t, text, "IP_ADDRESS"); !hasMatch(matches, "IP_ADDRESS", "192.168.1.77", text) {
			t.Errorf("IPv4 not detected: %+v", matches)
		}
		if matches := analyze(t, "bogus 999.1.1.1 addr", "IP_ADDRESS"); len(matches) != 0 {
			t.Errorf("Out-of-range octet accepted: %+v", matches)
		}
	})

	t.Run("Person", func(t *testing.T) {
		text := "met with Mary Jane Watson downtown"
		matches := analyze(t, text, "PERSON")
		if !hasMatch(matches, "PERSON", "Mary Jane Watson", text) {
			t.Errorf("Capitalized name not detected: %+v", matches)
		}
	})

	t.Run("StreetAddress", func(t *testing.T) {
		text := "ship to 123 Park Ave before noon"
		matches := analyze(t, text, "LOCATION")
		if len(matches) == 0 {
			t.Errorf("Street address not detected: %+v", matches)
		}
	})

	t.Run("EntityTypeFilter", func(t *testing.T) {
		matches := analyze(t, "bob@example.com and 555-123-4567", "EMAIL_ADDRESS")
		for _, m := range matches {
			if m.EntityType != "EMAIL_ADDRESS" {
				t.Errorf("Unrequested entity type returned: %+v", m)
			}
		}
	})

	t.Run("NoPII", func(t *testing.T) {
		if matches := analyze(t, "the quick brown fox", "EMAIL_ADDRESS", "PHONE_NUMBER", "US_SSN"); len(matches) != 0 {
			t.Errorf("Matches on clean text: %+v", matches)
		}
	})
}

func TestLuhnValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"4111111111111111", true},
		{"4111-1111-1111-1111", true},
		{"4111111111111112", false},
		{"1234", false},
	}
	for _, tc := range cases {
		if got := luhnValid(tc.in); got != tc.want {
			t.Errorf("luhnValid(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
