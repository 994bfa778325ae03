package services

import (
	"regexp"
	"strings"
	"unicode"
)

// Kinds of contact information the guard looks for.
const (
	FindingEmail = "email"
	FindingPhone = "phone"
	FindingURL   = "url"
)

// minPhoneDigits is the shortest digit run reported as a phone number, a
// local number without area code. Longer runs are always reported: they are
// usually several numbers written back to back.
const minPhoneDigits = 7

// contactTLDs are the top-level domains a bare domain is recognized by.
const contactTLDs = `com|net|org|io|dev|co|app|ai|me|info|biz|xyz|us|uk|de|ca|au|tech|site|online|store|design|studio|page|link|gg|tv|ly`

// techNames look like bare domains but are names of tools.
var techNames = map[string]bool{
	"asp.net":   true,
	"ado.net":   true,
	"vb.net":    true,
	"socket.io": true,
}

type Finding struct {
	Kind  string `json:"kind"`
	Match string `json:"match"`
}

// Verdict is the outcome of a scan. A verdict with no findings is Allowed.
type Verdict struct {
	Findings []Finding `json:"findings"`
}

func (v Verdict) Allowed() bool { return len(v.Findings) == 0 }

// Reason names the first kind of contact information found, or "" if allowed.
func (v Verdict) Reason() string {
	if v.Allowed() {
		return ""
	}
	switch v.Findings[0].Kind {
	case FindingEmail:
		return "email address detected"
	case FindingPhone:
		return "phone number detected"
	default:
		return "link detected"
	}
}

// ContentGuard scans free text for contact details that would let parties move
// off the platform. The same guard backs the live preview and the submit-time
// check.
type ContentGuard struct {
	email          *regexp.Regexp
	obfuscatedMail *regexp.Regexp
	phone          *regexp.Regexp
	url            *regexp.Regexp
	bareDomain     *regexp.Regexp
	// notPhone matches digit runs that are dates or year ranges.
	notPhone *regexp.Regexp
}

func NewContentGuard() *ContentGuard {
	return &ContentGuard{
		email:          regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`),
		obfuscatedMail: regexp.MustCompile(`(?i)[a-z0-9._%+\-]+\s*[\[(\{]\s*at\s*[\])\}]\s*[a-z0-9\-]+(?:\s*[\[(\{]\s*dot\s*[\])\}]\s*[a-z]{2,})+`),
		phone:          regexp.MustCompile(`\+?\(?\d[\d\s().\-]{5,}\d`),
		url:            regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s]+`),
		bareDomain:     regexp.MustCompile(`(?i)\b[a-z0-9][a-z0-9\-]*(?:\.[a-z0-9\-]+)*\.(?:` + contactTLDs + `)\b(?:/[^\s]*)?`),
		notPhone:       regexp.MustCompile(`\b(?:19|20)\d{2}\s*(?:-|to)\s*(?:19|20)\d{2}\b|\b(?:19|20)\d{2}[-./]\d{1,2}[-./]\d{1,2}\b`),
	}
}

// Scan reports every piece of contact information in text.
func (g *ContentGuard) Scan(text string) Verdict {
	var v Verdict
	masked := text
	for _, re := range []*regexp.Regexp{g.email, g.obfuscatedMail} {
		for _, m := range re.FindAllString(masked, -1) {
			v.Findings = append(v.Findings, Finding{Kind: FindingEmail, Match: m})
		}
		masked = re.ReplaceAllStringFunc(masked, blank)
	}
	for _, m := range g.url.FindAllString(masked, -1) {
		v.Findings = append(v.Findings, Finding{Kind: FindingURL, Match: m})
	}
	masked = g.url.ReplaceAllStringFunc(masked, blank)
	masked = g.bareDomain.ReplaceAllStringFunc(masked, func(m string) string {
		if !techNames[strings.ToLower(m)] {
			v.Findings = append(v.Findings, Finding{Kind: FindingURL, Match: m})
		}
		return blank(m)
	})
	masked = g.notPhone.ReplaceAllStringFunc(masked, blank)
	for _, m := range g.phone.FindAllString(masked, -1) {
		if countDigits(m) >= minPhoneDigits {
			v.Findings = append(v.Findings, Finding{Kind: FindingPhone, Match: strings.TrimSpace(m)})
		}
	}
	return v
}

// blank replaces a match with spaces so later patterns cannot reuse its characters.
func blank(s string) string { return strings.Repeat(" ", len(s)) }

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
