// ctorhelp/helpers_trigger.go
// Decides which typed characters start or refresh signature help.
package ctorhelp

import "unicode/utf8"

var (
	triggerCharacters   = []rune{'(', ','}
	retriggerCharacters = []rune{',', ')'}
)

// TriggerCharacters returns the characters that open signature help.
func TriggerCharacters() []rune {
	out := make([]rune, len(triggerCharacters))
	copy(out, triggerCharacters)
	return out
}

// RetriggerCharacters returns the characters that refresh an open signature help session.
func RetriggerCharacters() []rune {
	out := make([]rune, len(retriggerCharacters))
	copy(out, retriggerCharacters)
	return out
}

// IsTriggerCharacter reports whether typing r opens signature help.
func IsTriggerCharacter(r rune) bool {
	return containsRune(triggerCharacters, r)
}

// IsRetriggerCharacter reports whether typing r refreshes an open session.
func IsRetriggerCharacter(r rune) bool {
	return containsRune(retriggerCharacters, r)
}

func containsRune(set []rune, r rune) bool {
	for _, c := range set {
		if c == r {
			return true
		}
	}
	return false
}

// shouldTrigger applies the trigger policy to ev. text is the document
// snapshot and caret a byte offset into it.
func shouldTrigger(ev TriggerEvent, text []byte, caret int) bool {
	if ev.Kind == TriggerInvoked {
		return true
	}
	// A retrigger without a typed character comes from an edit inside an
	// open session; the locator alone decides whether the session survives.
	if ev.Kind == TriggerRetrigger && (ev.Character == 0 || ev.UsePreviousCharacter) {
		return true
	}
	ch := ev.Character
	if ev.UsePreviousCharacter {
		r, ok := previousRune(text, caret)
		if !ok {
			return false
		}
		ch = r
	}
	switch ev.Kind {
	case TriggerTyped:
		return IsTriggerCharacter(ch)
	case TriggerRetrigger:
		return IsTriggerCharacter(ch) || IsRetriggerCharacter(ch)
	default:
		return false
	}
}

// previousRune decodes the rune that ends right before caret.
func previousRune(text []byte, caret int) (rune, bool) {
	if caret <= 0 || caret > len(text) {
		return 0, false
	}
	r, size := utf8.DecodeLastRune(text[:caret])
	if r == utf8.RuneError && size <= 1 {
		return 0, false
	}
	return r, true
}
