package tokenscan

import "regexp"

var (
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	ssnPattern        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	creditCardPattern = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)
	ipv4Pattern       = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
	intlPhonePattern  = regexp.MustCompile(`\+\d{1,3}[ -]?\(?\d{1,4}\)?(?:[ -]?\d{2,4}){2,4}`)
	usPhonePattern    = regexp.MustCompile(`\(?\d{3}\)?[ -]?\d{3}[ -]?\d{4}\b`)
	bearerPattern     = regexp.MustCompile(`Bearer [A-Za-z0-9._-]{16,}`)
	jwtPattern        = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
)

// Scrub redacts personally identifiable information from text in a fixed
// order: email, then SSN, then credit card, then IPv4, then phone numbers,
// then bearer/JWT tokens last. Because token replacement runs last, the
// earlier patterns see token text first: a digit run inside a token can be
// redacted by one of them before the token patterns are applied.
func Scrub(text string) string {
	text = emailPattern.ReplaceAllString(text, "[email]")
	text = ssnPattern.ReplaceAllString(text, "[ssn]")
	text = creditCardPattern.ReplaceAllString(text, "[card]")
	text = ipv4Pattern.ReplaceAllString(text, "[ip]")
	text = intlPhonePattern.ReplaceAllString(text, "[phone]")
	text = usPhonePattern.ReplaceAllString(text, "[phone]")
	text = bearerPattern.ReplaceAllString(text, "Bearer [token]")
	text = jwtPattern.ReplaceAllString(text, "[token]")
	return text
}
