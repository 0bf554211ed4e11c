// Command seed writes a demo extract for rehearsing imports against the
// memory store or a scratch database.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-backfill/internal/extract"
)

type catalogEntry struct {
	name  string
	price string
	kind  string
}

var catalog = []catalogEntry{
	{"Haircut", "45.00", "service"},
	{"Beard trim", "20.00", "service"},
	{"Colouring", "95.00", "service"},
	{"Shampoo", "12.50", "product"},
	{"Hair wax", "18.90", "product"},
}

var payments = []string{"cash", "twint", "card"}

func main() {
	out := flag.String("out", "demo-extract.json", "output path")
	days := flag.Int("days", 14, "number of business days")
	start := flag.String("start", "2024-03-01", "first day (YYYY-MM-DD)")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	first, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("parse start: %v", err)
	}
	ext := generate(first, *days, rand.New(rand.NewSource(*seed)))

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ext); err != nil {
		log.Fatalf("encode extract: %v", err)
	}
	fmt.Printf("→ wrote %d sales and %d expenses to %s\n", len(ext.Sales), len(ext.Expenses), *out)
}

func generate(first time.Time, days int, rnd *rand.Rand) *extract.Extract {
	ext := &extract.Extract{}
	for _, c := range catalog {
		ext.Catalog = append(ext.Catalog, extract.CatalogRow{
			Name:         c.name,
			DefaultPrice: money(c.price),
			Kind:         c.kind,
		})
	}
	for d := 0; d < days; d++ {
		date := first.AddDate(0, 0, d)
		if date.Weekday() == time.Sunday {
			continue
		}
		visits := 3 + rnd.Intn(6)
		for v := 0; v < visits; v++ {
			var items []extract.LineItemRow
			total := decimal.Zero
			for n := 1 + rnd.Intn(2); n > 0; n-- {
				c := catalog[rnd.Intn(len(catalog))]
				items = append(items, extract.LineItemRow{ItemName: c.name, Price: money(c.price)})
				total = total.Add(decimal.RequireFromString(c.price))
			}
			ext.Sales = append(ext.Sales, extract.SaleRow{
				Date:          extract.Day{Time: date},
				Time:          extract.ClockTime(fmt.Sprintf("%02d:%02d", 9+v, rnd.Intn(4)*15)),
				TotalAmount:   extract.Money{Decimal: total},
				PaymentMethod: payments[rnd.Intn(len(payments))],
				LineItems:     items,
			})
		}
		if date.Weekday() == time.Monday {
			ext.Expenses = append(ext.Expenses, extract.ExpenseRow{
				Date:          extract.Day{Time: date},
				Amount:        money("64.80"),
				Description:   "Towel service",
				Category:      "supplies",
				PaymentMethod: "cash",
				SupplierName:  "Linen AG",
				InvoiceNumber: fmt.Sprintf("L-%s", date.Format("0102")),
			})
		}
	}
	if days > 0 {
		ext.Expenses = append(ext.Expenses, extract.ExpenseRow{
			Date:          extract.Day{Time: first},
			Amount:        money("1800.00"),
			Description:   "Shop rent",
			Category:      "rent",
			PaymentMethod: "bank",
		})
	}
	return ext
}

func money(v string) extract.Money {
	return extract.Money{Decimal: decimal.RequireFromString(v)}
}
