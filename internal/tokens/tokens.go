// Package tokens provides token count estimation for chunk sizing and context
// budgeting. Because the retrieval core serves multiple embedding and chat
// backends with different tokenizers, it uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose). This deliberately
// under-estimates so downstream context windows keep headroom.
package tokens

// charsPerToken is the conservative character-to-token ratio. 4 chars/token
// is standard for English text; 3 would be tighter but risks overflow.
const charsPerToken = 4

// Estimate returns a rough token count for s using the character heuristic.
// Non-empty strings always estimate to at least 1 token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}
