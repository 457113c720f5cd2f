// Package validate checks and normalizes untrusted tool arguments before
// they reach any external call. All functions are pure; failures are typed
// INVALID_INPUT errors and never partially normalize.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/everme/stockagent/pkg/errors"
)

const (
	maxTickerLen     = 20
	maxExpressionLen = 200
	minDays          = 1
	maxDays          = 365
)

var (
	tickerPattern  = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
	divByZero      = regexp.MustCompile(`/\s*0(?:[^0-9.]|$)`)
	controlChars   = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	allowedPeriods = map[string]bool{
		"1d": true, "5d": true, "1mo": true, "3mo": true, "6mo": true,
		"1y": true, "2y": true, "5y": true, "10y": true, "ytd": true, "max": true,
	}
)

// expressionAllowed is the full character class the arithmetic evaluator
// may ever receive. Anything outside it is rejected before evaluation.
const expressionAllowed = "0123456789+-*/.() "

// Ticker checks a ticker symbol: non-empty, at most 20 characters, letters,
// digits, dash and dot only (dash and dot cover crypto pairs like BTC-USD).
// Returns the trimmed symbol.
func Ticker(raw string) (string, error) {
	ticker := strings.TrimSpace(raw)
	if ticker == "" {
		return "", errors.Newf(errors.CodeInvalidInput, "ticker symbol cannot be empty")
	}
	if len(ticker) > maxTickerLen {
		return "", errors.Newf(errors.CodeInvalidInput,
			"ticker symbol too long (max %d characters)", maxTickerLen).
			WithContext("ticker", ticker)
	}
	if !tickerPattern.MatchString(ticker) {
		return "", errors.Newf(errors.CodeInvalidInput,
			"ticker contains invalid characters; only letters, numbers, dash and dot are allowed").
			WithContext("ticker", ticker)
	}
	return ticker, nil
}

// Days checks a day-count argument. JSON tool arguments arrive as float64,
// so integral floats and numeric strings are accepted; anything else is not.
func Days(raw any) (int, error) {
	days, ok := toInt(raw)
	if !ok {
		return 0, errors.Newf(errors.CodeInvalidInput, "days must be a whole number").
			WithContext("days", fmt.Sprintf("%v", raw))
	}
	if days < minDays {
		return 0, errors.Newf(errors.CodeInvalidInput, "days must be at least %d", minDays)
	}
	if days > maxDays {
		return 0, errors.Newf(errors.CodeInvalidInput, "days cannot exceed %d", maxDays)
	}
	return days, nil
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Period checks a history period token against the closed allowed set and
// returns it lower-cased.
func Period(raw string) (string, error) {
	period := strings.ToLower(strings.TrimSpace(raw))
	if !allowedPeriods[period] {
		return "", errors.Newf(errors.CodeInvalidInput,
			"invalid period %q; valid options: 1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, ytd, max", period)
	}
	return period, nil
}

// Expression checks an arithmetic expression: a strict character whitelist
// (digits, + - * / . ( ) and space), bounded length, and balanced
// parentheses. The evaluator must never see a string this rejects.
func Expression(raw string) (string, error) {
	expr := strings.TrimSpace(raw)
	if expr == "" {
		return "", errors.Newf(errors.CodeInvalidInput, "expression cannot be empty")
	}
	if len(expr) > maxExpressionLen {
		return "", errors.Newf(errors.CodeInvalidInput,
			"expression too long (max %d characters)", maxExpressionLen)
	}

	for _, r := range expr {
		if !strings.ContainsRune(expressionAllowed, r) {
			return "", errors.Newf(errors.CodeInvalidInput,
				"expression contains invalid character %q", r)
		}
	}

	depth := 0
	for _, r := range expr {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth < 0 {
			return "", errors.Newf(errors.CodeInvalidInput, "unbalanced parentheses in expression")
		}
	}
	if depth != 0 {
		return "", errors.Newf(errors.CodeInvalidInput, "unbalanced parentheses in expression")
	}

	if divByZero.MatchString(expr) {
		return "", errors.Newf(errors.CodeInvalidInput, "division by zero detected")
	}

	return expr, nil
}

// Symbols checks a multi-symbol comparison list: each entry must be a valid
// ticker and the count must be between min and max inclusive.
func Symbols(raw []string, min, max int) ([]string, error) {
	if len(raw) < min || len(raw) > max {
		return nil, errors.Newf(errors.CodeInvalidInput,
			"comparison requires between %d and %d symbols, got %d", min, max, len(raw))
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		ticker, err := Ticker(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ticker)
	}
	return out, nil
}

// UserInput trims free-form user text, caps its length, and strips control
// bytes other than tab and newline. The cap lands on a rune boundary so a
// multi-byte character is never cut in half.
func UserInput(text string, maxLength int) string {
	text = strings.TrimSpace(text)
	if maxLength > 0 && len(text) > maxLength {
		cut := maxLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return controlChars.ReplaceAllString(text, "")
}
