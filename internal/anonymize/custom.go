package anonymize

import (
	"regexp"
	"strings"
)

// Transform is a pure string transformation usable as a custom strategy.
type Transform func(string) string

// customTransforms is the closed set of named transforms selectable via
// strategy_params.lambda. Arbitrary code is never executed.
var customTransforms = map[string]Transform{
	"mask_email":    maskEmail,
	"mask_person":   maskPerson,
	"mask_location": maskLocation,
}

// KnownTransform reports whether a lambda name is registered.
func KnownTransform(name string) bool {
	_, ok := customTransforms[name]
	return ok
}

// maskEmail masks an email in the format al*********@e******.com: the first
// two characters of the local part and the domain's first character and TLD
// are kept.
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return email
	}
	username, domain := email[:at], email[at+1:]

	maskedUsername := username
	if len(username) > 2 {
		maskedUsername = username[:2] + strings.Repeat("*", len(username)-2)
	}

	// Only the first domain label and the TLD survive; middle labels drop.
	maskedDomain := domain
	if parts := strings.Split(domain, "."); len(parts) >= 2 {
		main, tld := parts[0], parts[len(parts)-1]
		if len(main) > 2 {
			main = main[:1] + strings.Repeat("*", len(main)-1)
		}
		maskedDomain = main + "." + tld
	}

	return maskedUsername + "@" + maskedDomain
}

// maskPerson masks a person name in the format Jo*** Do****: the first two
// characters of each token are kept.
func maskPerson(name string) string {
	parts := strings.Fields(name)
	masked := make([]string, len(parts))
	for i, part := range parts {
		if len(part) <= 2 {
			masked[i] = part
		} else {
			masked[i] = part[:2] + strings.Repeat("*", len(part)-2)
		}
	}
	return strings.Join(masked, " ")
}

var spaceSplit = regexp.MustCompile(`\s+`)

// streetSuffixes are short address words preserved by maskLocation.
var streetSuffixes = map[string]bool{
	"st": true, "ave": true, "rd": true, "dr": true, "ln": true,
	"blvd": true, "way": true, "ct": true, "pl": true,
}

// maskLocation masks an address in the format 1** P*** rd: numbers and
// words keep their first character, short street suffixes are preserved.
func maskLocation(location string) string {
	commaParts := strings.Split(location, ",")
	maskedCommaParts := make([]string, 0, len(commaParts))

	for _, commaPart := range commaParts {
		commaPart = strings.TrimSpace(commaPart)
		if commaPart == "" {
			continue
		}

		parts := spaceSplit.Split(commaPart, -1)
		masked := make([]string, 0, len(parts))
		for _, part := range parts {
			if part == "" {
				continue
			}
			switch {
			case isDigits(part) && len(part) > 1:
				masked = append(masked, part[:1]+strings.Repeat("*", len(part)-1))
			case len(part) <= 2 || streetSuffixes[strings.ToLower(part)]:
				masked = append(masked, part)
			default:
				masked = append(masked, part[:1]+strings.Repeat("*", len(part)-1))
			}
		}
		maskedCommaParts = append(maskedCommaParts, strings.Join(masked, " "))
	}

	return strings.Join(maskedCommaParts, ", ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
