package market

import "fmt"

type Category string

const (
	CategoryPET       Category = "PET"
	CategoryHDPE      Category = "HDPE"
	CategoryCardboard Category = "CARDBOARD"
	CategoryPaper     Category = "PAPER"
	CategoryGlass     Category = "GLASS"
	CategoryAluminum  Category = "ALUMINUM"
	CategoryCopper    Category = "COPPER"
	CategoryTetrapak  Category = "TETRAPAK"
)

// PriceTable maps a category to its unit price per kg in minor units.
type PriceTable map[Category]int64

var DefaultPriceTable = PriceTable{
	CategoryPET:       650,
	CategoryHDPE:      500,
	CategoryCardboard: 200,
	CategoryPaper:     150,
	CategoryGlass:     80,
	CategoryAluminum:  2200,
	CategoryCopper:    12000,
	CategoryTetrapak:  100,
}

func (t PriceTable) UnitPrice(c Category) (int64, error) {
	p, ok := t[c]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCategory, c)
	}
	return p, nil
}

// Total is quantity × unit price for the category.
func (t PriceTable) Total(c Category, qty int64) (int64, error) {
	p, err := t.UnitPrice(c)
	if err != nil {
		return 0, err
	}
	if qty <= 0 {
		return 0, fmt.Errorf("invalid quantity %d for %s", qty, c)
	}
	return p * qty, nil
}
