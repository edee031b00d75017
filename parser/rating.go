package parser

import "strings"

// ratingCodes is indexed by the numeric rating.
var ratingCodes = [...]string{"Zero", "One", "Two", "Three", "Four", "Five"}

// MaxRating is the highest value DecodeRating returns.
const MaxRating = len(ratingCodes) - 1

// DecodeRating maps a star-rating class attribute such as "star-rating Three"
// to its numeric value using the last class token.
func DecodeRating(classAttr string) (int, error) {
	tokens := strings.Fields(classAttr)
	if len(tokens) == 0 {
		return 0, &UnknownRatingCodeError{Code: ""}
	}
	code := tokens[len(tokens)-1]
	for value, known := range ratingCodes {
		if code == known {
			return value, nil
		}
	}
	return 0, &UnknownRatingCodeError{Code: code}
}
