package intent

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Number words after accent folding.
var units = map[string]int64{
	"zero": 0, "um": 1, "uma": 1, "dois": 2, "duas": 2, "tres": 3, "quatro": 4,
	"cinco": 5, "seis": 6, "sete": 7, "oito": 8, "nove": 9, "dez": 10,
	"onze": 11, "doze": 12, "treze": 13, "catorze": 14, "quatorze": 14, "quinze": 15,
	"dezesseis": 16, "dezasseis": 16, "dezessete": 17, "dezassete": 17,
	"dezoito": 18, "dezenove": 19, "dezanove": 19,
	"vinte": 20, "trinta": 30, "quarenta": 40, "cinquenta": 50, "sessenta": 60,
	"setenta": 70, "oitenta": 80, "noventa": 90,
	"cem": 100, "cento": 100, "duzentos": 200, "trezentos": 300, "quatrocentos": 400,
	"quinhentos": 500, "seiscentos": 600, "setecentos": 700, "oitocentos": 800,
	"novecentos": 900, "mil": 1000,
}

func isNumberWord(tok string) bool {
	_, ok := units[tok]
	return ok
}

func isDigits(tok string) bool {
	if tok == "" {
		return false
	}
	seenDigit := false
	for _, r := range tok {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
		case r == ',' || r == '.':
		default:
			return false
		}
	}
	return seenDigit
}

// parseDigits accepts "3", "2,50", "2.50" and "1.000,50".
func parseDigits(tok string) (decimal.Decimal, bool) {
	tok = strings.Trim(tok, ",.")
	if strings.Contains(tok, ",") {
		tok = strings.ReplaceAll(tok, ".", "")
		tok = strings.Replace(tok, ",", ".", 1)
	}
	d, err := decimal.NewFromString(tok)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// parseWords reads a run of number words joined by "e" starting at tokens[i],
// e.g. "vinte e cinco" or "cento e dez". It returns the value and the index after it.
func parseWords(tokens []string, i int) (int64, int, bool) {
	if i >= len(tokens) || !isNumberWord(tokens[i]) {
		return 0, i, false
	}
	var total, group int64
	j := i
	for j < len(tokens) {
		tok := tokens[j]
		if tok == "e" && j+1 < len(tokens) && isNumberWord(tokens[j+1]) && tokens[j+1] != "mil" {
			j++
			continue
		}
		v, ok := units[tok]
		if !ok {
			break
		}
		if v == 1000 {
			if group == 0 {
				group = 1
			}
			total += group * 1000
			group = 0
		} else {
			group += v
		}
		j++
	}
	return total + group, j, true
}

// parsePlain reads a number in digits or words at tokens[i].
func parsePlain(tokens []string, i int) (decimal.Decimal, int, bool) {
	if i >= len(tokens) {
		return decimal.Zero, i, false
	}
	if isDigits(tokens[i]) {
		v, ok := parseDigits(tokens[i])
		return v, i + 1, ok
	}
	n, next, ok := parseWords(tokens, i)
	return decimal.NewFromInt(n), next, ok
}

func isCents(tok string) bool { return tok == "centavos" || tok == "centavo" }

// parseNumber reads a number at tokens[i]. Money phrases such as "dois reais e
// cinquenta centavos" are folded into one value; money reports whether a currency
// word followed.
func parseNumber(tokens []string, i int) (value decimal.Decimal, next int, money bool, ok bool) {
	value, next, ok = parsePlain(tokens, i)
	if !ok {
		return decimal.Zero, i, false, false
	}

	hundred := decimal.NewFromInt(100)
	switch {
	case next < len(tokens) && (tokens[next] == "reais" || tokens[next] == "real"):
		money = true
		next++
		if next+1 < len(tokens) && tokens[next] == "e" {
			if cents, j, found := parsePlain(tokens, next+1); found {
				value = value.Add(cents.Div(hundred))
				next = j
				if next < len(tokens) && isCents(tokens[next]) {
					next++
				}
			}
		}
	case next < len(tokens) && isCents(tokens[next]):
		value = value.Div(hundred)
		money = true
		next++
	}
	return value, next, money, true
}

// ParseQuantity returns the first whole number in text, or def when there is none.
func ParseQuantity(text string, def int) int {
	tokens := tokenize(text).folded
	for i := 0; i < len(tokens); i++ {
		v, _, _, ok := parseNumber(tokens, i)
		if ok && v.IsInteger() && v.IsPositive() {
			return int(v.IntPart())
		}
	}
	return def
}

// ParsePrice returns the first number in text as a price.
func ParsePrice(text string) (decimal.Decimal, bool) {
	tokens := tokenize(text).folded
	for i := 0; i < len(tokens); i++ {
		if v, _, _, ok := parseNumber(tokens, i); ok && !v.IsNegative() {
			return v, true
		}
	}
	return decimal.Zero, false
}
