package market

import (
	"errors"
	"testing"
)

func TestPriceTableTotal(t *testing.T) {
	table := PriceTable{CategoryCardboard: 200}
	total, err := table.Total(CategoryCardboard, 100)
	if err != nil {
		t.Fatal(err)
	}
	if total != 20000 {
		t.Errorf("100 kg at 2.00 = %s, want 200.00", FormatCents(total))
	}

	if _, err := table.Total(CategoryCopper, 1); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("unknown category: %v", err)
	}
	if _, err := table.Total(CategoryCardboard, 0); err == nil {
		t.Error("zero quantity accepted")
	}
}
