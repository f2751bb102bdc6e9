// Package classify holds the pure keyword predicates consulted by the
// exploration core: credential detection, exit-risk detection, back-control
// recognition, navigation hints, and the low-value/login screen heuristics.
// Everything here is a side-effect-free function over strings.
package classify

import (
	"strings"

	"screenscout/internal/ui"
)

// credentialKeywords flag controls that must never be tapped autonomously.
// Matching is unconditional: no exploration mode may bypass it.
var credentialKeywords = []string{
	"password", "passwd", "passcode", "pin", "otp", "one-time",
	"cvv", "cvc", "card number", "cardnumber", "card_number",
	"ssn", "iban", "secret", "credential", "2fa", "mfa",
	"verification code", "security code",
}

// exitKeywords flag controls likely to leave the app entirely.
var exitKeywords = []string{
	"home", "recents", "recent apps", "launcher", "keyboard", "ime",
	"logout", "log out", "sign out", "signout", "uninstall",
}

// backKeywords identify explicit back/up controls.
var backKeywords = []string{
	"back", "navigate up", "nav_up", "arrow_back", "chevron_left",
	"previous", "return",
}

var navigationKeywords = []string{
	"home", "menu", "nav", "tab", "drawer", "dashboard", "settings",
	"profile", "search", "browse", "explore", "next", "continue",
}

var tabBarClasses = []string{
	"tablayout", "bottomnavigation", "navigationbar", "toolbar", "actionbar",
	"navbar", "tabbar",
}

var cardListClasses = []string{
	"card", "listitem", "list_item", "recycler", "cell", "row", "tile",
}

// metaKeywords mark boilerplate legal/version content.
var metaKeywords = []string{
	"terms of service", "privacy policy", "license", "licence", "copyright",
	"version", "build number", "open source", "acknowledgement",
	"acknowledgment", "legal", "changelog", "faq",
}

var loginKeywords = []string{
	"log in", "login", "sign in", "signin", "username", "email",
	"forgot", "register", "create account",
}

// lowValueActivityHints mark meta/settings-like surfaces by name.
var lowValueActivityHints = []string{
	"settings", "about", "legal", "license", "privacy", "terms", "help",
	"feedback", "debug",
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// IsCredentialLike reports whether the string suggests a credential field.
func IsCredentialLike(s string) bool { return containsAny(s, credentialKeywords) }

// IsExitRisk reports whether the string suggests an action that would exit
// the app (launcher, recents, keyboard dismissal and the like).
func IsExitRisk(s string) bool { return containsAny(s, exitKeywords) }

// HasSystemPrefix reports whether the resource id belongs to a system shell
// surface rather than the app under exploration.
func HasSystemPrefix(resourceID string, prefixes []string) bool {
	if resourceID == "" {
		return false
	}
	lower := strings.ToLower(resourceID)
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// IsBackControl reports whether the element is a back/up navigation control.
// Back controls are kept out of the work queue but remain usable by explicit
// backtracking.
func IsBackControl(e ui.Element) bool {
	return containsAny(e.ResourceID, backKeywords) ||
		containsAny(e.Label, backKeywords) ||
		(len(e.Text) <= 20 && containsAny(e.Text, backKeywords))
}

// IsNavigationHint reports whether the element looks like a navigation
// control: bar position, tab-bar class, navigation keyword, wide button, or
// card/list item. Quick traversal mode queues only these.
func IsNavigationHint(e ui.Element, screenWidth, screenHeight int) bool {
	cy := e.Bounds.CenterY()
	// Bottom or top bar band.
	if screenHeight > 0 && (cy > screenHeight*85/100 || cy < screenHeight*12/100) {
		return true
	}
	class := strings.ToLower(e.ClassName)
	for _, c := range tabBarClasses {
		if strings.Contains(class, c) {
			return true
		}
	}
	if containsAny(e.Text, navigationKeywords) || containsAny(e.Label, navigationKeywords) ||
		containsAny(e.ResourceID, navigationKeywords) {
		return true
	}
	// Wide buttons usually advance a flow.
	if screenWidth > 0 && e.Bounds.Width > screenWidth*7/10 && e.Bounds.Height < screenHeight/8 {
		return true
	}
	for _, c := range cardListClasses {
		if strings.Contains(class, c) {
			return true
		}
	}
	return false
}

// MetaKeywordCount counts boilerplate legal/version keyword hits across the
// given text fragments. Each keyword counts at most once per fragment.
func MetaKeywordCount(texts []string) int {
	count := 0
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, kw := range metaKeywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
	}
	return count
}

// LoginKeywordCount counts login-related keyword hits across text fragments.
func LoginKeywordCount(texts []string) int {
	count := 0
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, kw := range loginKeywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
	}
	return count
}

// IsLowValueActivity reports whether the surface name alone marks the screen
// as meta/settings-like.
func IsLowValueActivity(activity string) bool {
	return containsAny(activity, lowValueActivityHints)
}
