package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var (
	unityHeader = []string{
		"Execution ID", "Account", "Instrument", "Ценная бумага", "Тип операции ФИ",
		"Сумма в валюте", "Сумма тг", "Рынок ЦБ", "Валюта", "Финансовый инструмент", "Дата валютирования",
	}
	aisHeader = []string{
		"ID сделки на бирже", "Субсчет в учетной организации", "Instrument", "Side",
		"Amount", "Сумма тг", "Рынок ЦБ",
	}
	dailyHeader = []string{"Ценная бумага", "Субсчет в учетной организации", "Количество"}

	papers  = []string{"KZTO", "HSBK", "KCEL", "KEGC", "AAPL", "TSLA", "UNH"}
	isins   = []string{"KZ1C00000876", "KZ000A0LE0S4", "KZ1C00000744", "US0378331005", "US88160R1014"}
	markets = []string{"EQUITY", "EQUITY", "EQUITY", "BONDS", "FOREX", "CRYPTO"}
	cryptos = []string{"BTCUSDT", "ETHUSDT", "FUBTCUSDT"}
)

// Generator writes a matching pair of Unity and AIS exports plus a split
// reference list and a daily file.
type Generator struct {
	Deals      int
	MatchRatio float64
	DupRatio   float64
	rng        *rand.Rand
}

type deal struct {
	id      string
	account string
	paper   string
	buy     bool
	amount  decimal.Decimal
	rate    decimal.Decimal
	market  string
	bo      bool
	crypto  string
}

func main() {
	var (
		outputDir  = flag.String("output-dir", "../generated", "Output directory for generated files")
		deals      = flag.Int("deals", 500, "Number of Unity deals to generate")
		matchRatio = flag.Float64("match-ratio", 0.9, "Share of Unity deals also present in AIS")
		dupRatio   = flag.Float64("dup-ratio", 0.02, "Share of deals repeated with the same ID")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
	)
	flag.Parse()

	if *matchRatio < 0 || *matchRatio > 1 || *dupRatio < 0 || *dupRatio > 1 {
		log.Fatal("ratios must be between 0 and 1")
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	g := &Generator{Deals: *deals, MatchRatio: *matchRatio, DupRatio: *dupRatio, rng: rand.New(rand.NewSource(*seed))}
	generated := g.deals()

	files := []struct {
		name  string
		write func(string) error
	}{
		{"unity.xlsx", func(p string) error { return g.writeUnity(p, generated) }},
		{"ais.xlsx", func(p string) error { return g.writeAIS(p, generated) }},
		{"split_list.xlsx", g.writeSplitList},
		{"daily.xlsx", g.writeDaily},
	}
	for _, f := range files {
		path := filepath.Join(*outputDir, f.name)
		if err := f.write(path); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		fmt.Printf("Generated %s\n", path)
	}
	fmt.Printf("%d deals, seed %d\n", len(generated), *seed)
}

func (g *Generator) deals() []deal {
	out := make([]deal, 0, g.Deals)
	for i := 0; i < g.Deals; i++ {
		d := deal{
			id:      fmt.Sprintf("%d", 1000000+i),
			account: fmt.Sprintf("%03d", 100+g.rng.Intn(50)),
			paper:   papers[g.rng.Intn(len(papers))],
			buy:     g.rng.Intn(2) == 0,
			market:  markets[g.rng.Intn(len(markets))],
			rate:    decimal.NewFromFloat(450 + g.rng.Float64()*60).Round(2),
		}
		// mostly small deals with a tail above the 7M and 45M thresholds
		switch r := g.rng.Float64(); {
		case r < 0.05:
			d.amount = decimal.NewFromInt(int64(100000 + g.rng.Intn(200000)))
		case r < 0.15:
			d.amount = decimal.NewFromInt(int64(15000 + g.rng.Intn(20000)))
		default:
			d.amount = decimal.NewFromFloat(10 + g.rng.Float64()*5000).Round(2)
		}
		d.bo = g.rng.Float64() < 0.05
		if g.rng.Float64() < 0.05 {
			d.crypto = cryptos[g.rng.Intn(len(cryptos))]
		}
		out = append(out, d)

		if g.rng.Float64() < g.DupRatio {
			dup := d
			dup.account = fmt.Sprintf("%03d", 100+g.rng.Intn(50))
			out = append(out, dup)
		}
	}
	return out
}

func (d deal) tenge() decimal.Decimal {
	return d.amount.Mul(d.rate).Round(2)
}

func (d deal) instrument() string {
	if d.bo {
		return "[BO]" + d.paper
	}
	return "[EQ]" + d.paper
}

func (g *Generator) writeUnity(path string, deals []deal) error {
	rows := make([][]interface{}, 0, len(deals))
	for _, d := range deals {
		op, currency, fin := "Покупка", "KZT", d.paper
		if !d.buy {
			op = "Продажа"
		}
		if d.crypto != "" {
			currency, fin = "USDT", d.crypto
		}
		// the same paper is written with varying case and spacing
		paper := d.paper
		if g.rng.Intn(5) == 0 {
			paper = " " + paper + " "
		}
		rows = append(rows, []interface{}{
			d.id, "KZ-" + d.account, d.instrument(), paper, op,
			d.amount.InexactFloat64(), d.tenge().StringFixed(2), d.market, currency, fin,
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).Format("02.01.2006"),
		})
	}
	return writeSheet(path, unityHeader, rows)
}

func (g *Generator) writeAIS(path string, deals []deal) error {
	var rows [][]interface{}
	for _, d := range deals {
		if g.rng.Float64() >= g.MatchRatio {
			continue
		}
		side := "BUY"
		if !d.buy {
			side = "SELL"
		}
		rows = append(rows, []interface{}{
			d.id, "S-" + d.account, d.paper, side,
			d.amount.InexactFloat64(), d.tenge().InexactFloat64(), d.market,
		})
	}
	// AIS-only deals
	for i := 0; i < g.Deals/20+1; i++ {
		rows = append(rows, []interface{}{
			fmt.Sprintf("%d", 9000000+i), fmt.Sprintf("S-%03d", 100+g.rng.Intn(50)),
			papers[g.rng.Intn(len(papers))], "BUY", 100.0, 48000.0, "EQUITY",
		})
	}
	return writeSheet(path, aisHeader, rows)
}

func (g *Generator) writeSplitList(path string) error {
	rows := make([][]interface{}, 0, 2)
	for _, isin := range isins[:2] {
		rows = append(rows, []interface{}{isin})
	}
	return writeSheet(path, []string{"ID_ISIN"}, rows)
}

func (g *Generator) writeDaily(path string) error {
	rows := make([][]interface{}, 0, 20)
	for i := 0; i < 20; i++ {
		isin := isins[g.rng.Intn(len(isins))]
		rows = append(rows, []interface{}{
			isin + " " + papers[g.rng.Intn(len(papers))],
			fmt.Sprintf("S-%03d", 100+g.rng.Intn(50)),
			1 + g.rng.Intn(1000),
		})
	}
	return writeSheet(path, dailyHeader, rows)
}

func writeSheet(path string, header []string, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	head := make([]interface{}, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := sw.SetRow("A1", head); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, r); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}
