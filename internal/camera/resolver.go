// Package camera maps the positional indices sent by clients onto the
// legacy camera identifiers used by the tracking pipeline and in its
// output filenames.
//
// The rig is fixed: position 0 is camera 1, 1 is camera 4, 2 is camera 6
// and 3 is camera 8. Positions outside the rig resolve to Unassigned
// instead of failing, so one bad index does not abort a whole request.
package camera

import (
	"fmt"
	"strconv"
	"strings"
)

// Unassigned is the identifier returned for positions outside the rig.
const Unassigned = 0

// LegacyIDs is the camera identifier for each client-facing position.
var LegacyIDs = []int{1, 4, 6, 8}

// TokenError reports an index token that is not an integer.
type TokenError struct {
	Token string
	Err   error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid camera index %q: %v", e.Token, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// Flatten turns raw index tokens into one ordered list of positions.
// A token is either a bare integer ("2") or a comma-joined list ("0,1"),
// so ["0,1", "2"] and ["0", "1", "2"] flatten identically.
func Flatten(tokens []string) ([]int, error) {
	positions := make([]int, 0, len(tokens))
	for _, token := range tokens {
		for _, part := range strings.Split(token, ",") {
			p, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, &TokenError{Token: part, Err: err}
			}
			positions = append(positions, p)
		}
	}
	return positions, nil
}

// Resolve returns the legacy identifier for a position, or Unassigned when
// the position is outside the rig.
func Resolve(position int) int {
	if position < 0 || position >= len(LegacyIDs) {
		return Unassigned
	}
	return LegacyIDs[position]
}

// ResolveTokens flattens tokens and maps every position through Resolve.
// The output order matches the token order.
func ResolveTokens(tokens []string) ([]int, error) {
	positions, err := Flatten(tokens)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(positions))
	for i, p := range positions {
		ids[i] = Resolve(p)
	}
	return ids, nil
}
