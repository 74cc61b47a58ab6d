// Package intent maps free-text commands to a fixed set of shopping intents by
// keyword. It never errors: text it cannot place is Unrecognized.
package intent

import (
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/utils"
)

type Kind int

const (
	Unrecognized Kind = iota
	ListProducts
	AddToCart
	RemoveFromCart
	ViewCart
	Checkout
	Logout
	AddProduct
	UpdateProduct
	RemoveProduct
)

var kindNames = map[Kind]string{
	Unrecognized:   "unrecognized",
	ListProducts:   "list_products",
	AddToCart:      "add_to_cart",
	RemoveFromCart: "remove_from_cart",
	ViewCart:       "view_cart",
	Checkout:       "checkout",
	Logout:         "logout",
	AddProduct:     "add_product",
	UpdateProduct:  "update_product",
	RemoveProduct:  "remove_product",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// AdminOnly reports whether the intent changes the catalog.
func (k Kind) AdminOnly() bool {
	return k == AddProduct || k == UpdateProduct || k == RemoveProduct
}

// Intent is the classified command. Fields are only set for the kinds that use them.
type Intent struct {
	Kind        Kind
	ProductHint string // Catalog name found in the text (cart and catalog edits)
	Quantity    int    // AddToCart defaults to 1; RemoveFromCart 0 means the whole line
	Name        string // New product name (AddProduct)
	Price       *decimal.Decimal
	Stock       *int
	Text        string
}

type rule struct {
	kind     Kind
	keywords []string
}

// Order matters: first match wins.
var rules = []rule{
	{AddProduct, []string{"cadastrar", "cadastro"}},
	{UpdateProduct, []string{"atualizar", "alterar", "mudar"}},
	{RemoveProduct, []string{"excluir", "deletar"}},
	{ListProducts, []string{"listar", "lista", "produtos", "catalogo", "estoque"}},
	{AddToCart, []string{"comprar", "compre", "adicionar", "adiciona", "colocar", "coloca"}},
	{RemoveFromCart, []string{"remover", "retirar", "tirar"}},
	{ViewCart, []string{"carrinho"}},
	{Checkout, []string{"finalizar", "concluir", "checkout", "pagar"}},
	{Logout, []string{"sair", "logout", "terminar"}},
	{ListProducts, []string{"ver", "mostrar"}},
}

// NameSource returns the current catalog product names.
type NameSource func() []string

// StaticNames is a NameSource over a fixed list.
func StaticNames(names ...string) NameSource {
	return func() []string { return names }
}

type Dispatcher struct {
	names NameSource
}

func NewDispatcher(names NameSource) *Dispatcher {
	if names == nil {
		names = StaticNames()
	}
	return &Dispatcher{names: names}
}

// Classify maps text to exactly one intent.
func (d *Dispatcher) Classify(text string) Intent {
	tok := tokenize(text)
	in := Intent{Kind: Unrecognized, Text: text}
	if len(tok.folded) == 0 {
		return in
	}

	words := make(map[string]bool, len(tok.folded))
	for _, w := range tok.folded {
		words[w] = true
	}

	for _, r := range rules {
		if matchesAny(words, r.keywords) {
			in.Kind = r.kind
			break
		}
	}

	switch in.Kind {
	case AddToCart:
		in.ProductHint = d.findProduct(tok)
		in.Quantity = quantity(tok, in.ProductHint, 1)
	case RemoveFromCart:
		in.ProductHint = d.findProduct(tok)
		in.Quantity = quantity(tok, in.ProductHint, 0)
	case RemoveProduct:
		in.ProductHint = d.findProduct(tok)
	case UpdateProduct:
		in.ProductHint = d.findProduct(tok)
		in.Price, in.Stock = priceAndStock(tok.folded)
	case AddProduct:
		in.Name = productName(tok)
		in.Price, in.Stock = priceAndStock(tok.folded)
	}
	return in
}

func matchesAny(words map[string]bool, keywords []string) bool {
	for _, k := range keywords {
		if words[k] {
			return true
		}
	}
	return false
}

// findProduct returns the longest catalog name contained in the text, ignoring case
// and accents.
func (d *Dispatcher) findProduct(tok tokens) string {
	names := append([]string(nil), d.names()...)
	sort.SliceStable(names, func(i, j int) bool {
		return len([]rune(names[i])) > len([]rune(names[j]))
	})

	haystack := " " + strings.Join(tok.folded, " ") + " "
	for _, name := range names {
		key := strings.Join(tokenize(name).folded, " ")
		if key != "" && strings.Contains(haystack, key) {
			return name
		}
	}
	return ""
}

// quantity picks the first number outside the product name. Numbers above
// MaxQuantity come back as MaxQuantity+1 so the cart rejects them instead of
// overflowing int.
func quantity(tok tokens, product string, def int) int {
	skip := map[string]bool{}
	for _, w := range tokenize(product).folded {
		skip[w] = true
	}
	for i := 0; i < len(tok.folded); i++ {
		if skip[tok.folded[i]] {
			continue
		}
		v, _, _, ok := parseNumber(tok.folded, i)
		if ok && v.IsInteger() && v.IsPositive() {
			if v.GreaterThan(decimal.NewFromInt(models.MaxQuantity)) {
				return models.MaxQuantity + 1
			}
			return int(v.IntPart())
		}
	}
	return def
}

var (
	priceWords = map[string]bool{"preco": true, "valor": true, "por": true, "custa": true, "custando": true}
	stockWords = map[string]bool{"estoque": true, "quantidade": true, "unidades": true}
	nameStops  = map[string]bool{"com": true, "reais": true, "real": true}
	nameFiller = map[string]bool{"produto": true, "o": true, "a": true, "um": true, "uma": true, "novo": true, "nova": true}
)

// priceAndStock assigns numbers to the slot named by the closest preceding keyword.
// A number followed by "reais" is always a price; unlabelled numbers fill price first.
func priceAndStock(tokens []string) (*decimal.Decimal, *int) {
	var price *decimal.Decimal
	var stock *int
	var loose []decimal.Decimal
	slot := ""

	for i := 0; i < len(tokens); {
		t := tokens[i]
		switch {
		case priceWords[t]:
			slot = "price"
		case stockWords[t]:
			slot = "stock"
		}

		v, next, money, ok := parseNumber(tokens, i)
		if !ok {
			i++
			continue
		}
		switch {
		case (money || slot == "price") && price == nil:
			p := v
			price = &p
		case slot == "stock" && stock == nil && v.IsInteger():
			s := int(v.IntPart())
			stock = &s
		default:
			loose = append(loose, v)
		}
		slot = ""
		i = next
	}

	for _, v := range loose {
		switch {
		case price == nil:
			p := v
			price = &p
		case stock == nil && v.IsInteger():
			s := int(v.IntPart())
			stock = &s
		}
	}
	return price, stock
}

// productName reads the new product's name: the words after the verb up to the first
// number or price/stock keyword, keeping the speaker's accents.
func productName(tok tokens) string {
	start := -1
	for i, w := range tok.folded {
		if w == "cadastrar" || w == "cadastro" {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}

	for start < len(tok.folded) && (nameFiller[tok.folded[start]] || tok.folded[start] == "de" || tok.folded[start] == "do") {
		start++
	}

	end := start
	for end < len(tok.folded) {
		w := tok.folded[end]
		if priceWords[w] || stockWords[w] || nameStops[w] || isDigits(w) || isNumberWord(w) {
			break
		}
		end++
	}
	return strings.Join(tok.original[start:end], " ")
}

type tokens struct {
	original []string // lowercased
	folded   []string // lowercased, accents removed
}

// tokenize splits text on anything that is not a letter or digit. Commas and dots
// between digits stay, so "2,50" is one token.
func tokenize(text string) tokens {
	lower := []rune(strings.ToLower(text))
	var b strings.Builder
	for i, r := range lower {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			b.WriteRune(r)
		case (r == ',' || r == '.') && i > 0 && i+1 < len(lower) && unicode.IsDigit(lower[i-1]) && unicode.IsDigit(lower[i+1]):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	original := strings.Fields(b.String())
	folded := make([]string, len(original))
	for i, w := range original {
		folded[i] = utils.FoldAccents(w)
	}
	return tokens{original: original, folded: folded}
}
