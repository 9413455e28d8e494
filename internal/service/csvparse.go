package service

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParsedRow is one canonical transaction extracted from a bank export.
// AmountCents is the absolute charge magnitude; bank debit/credit sign
// conventions are normalized away during parsing.
type ParsedRow struct {
	Date        time.Time
	Description string
	AmountCents int64
	FromCredit  bool
}

// ParseResult carries parsed rows plus per-row diagnostics. Row failures
// never abort the batch.
type ParseResult struct {
	Transactions []ParsedRow
	Errors       []error
	Skipped      int
}

// columnMap holds resolved column roles. Either Amount or Debit/Credit is
// set, never both.
type columnMap struct {
	Date        int
	Description int
	Amount      int
	Debit       int
	Credit      int
}

// header synonym lists, matched case-insensitively against trimmed names.
var (
	dateHeaders        = []string{"date", "transaction date", "trans date", "posted date", "post date", "posting date"}
	descriptionHeaders = []string{"description", "merchant", "payee", "name", "memo", "details", "transaction"}
	amountHeaders      = []string{"amount", "transaction amount", "value"}
	debitHeaders       = []string{"debit", "withdrawal", "withdrawals", "money out", "paid out"}
	creditHeaders      = []string{"credit", "deposit", "deposits", "money in", "paid in"}
)

// ParseStatement parses CSV or TSV bank export text into canonical rows.
// Output is sorted ascending by date regardless of input order.
func ParseStatement(content string) ParseResult {
	res := ParseResult{}

	delim := sniffDelimiter(content)
	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records [][]string
	line := 0
	for {
		line++
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return res
	}

	cols, headerless, err := resolveColumns(records[0])
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}
	data := records[1:]
	if headerless {
		data = records
	}

	for i, rec := range data {
		lineNo := i + 1
		if !headerless {
			lineNo++
		}
		row, skip, err := parseRow(rec, cols)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		if skip {
			res.Skipped++
			continue
		}
		res.Transactions = append(res.Transactions, row)
	}

	sort.SliceStable(res.Transactions, func(i, j int) bool {
		return res.Transactions[i].Date.Before(res.Transactions[j].Date)
	})
	return res
}

// sniffDelimiter samples up to the first 5 lines. Tab wins only when every
// sampled line contains one and tabs outnumber commas overall.
func sniffDelimiter(content string) rune {
	lines := strings.Split(content, "\n")
	sampled, tabs, commas := 0, 0, 0
	tabEveryLine := true
	for _, l := range lines {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		if sampled == 5 {
			break
		}
		sampled++
		t := strings.Count(l, "\t")
		if t == 0 {
			tabEveryLine = false
		}
		tabs += t
		commas += strings.Count(l, ",")
	}
	if sampled > 0 && tabEveryLine && tabs > commas {
		return '\t'
	}
	return ','
}

// resolveColumns decides whether the first record is a header row and maps
// column roles. A first record containing both a date-shaped and an
// amount-shaped token is already data; roles are then inferred from the
// shapes of that record.
func resolveColumns(first []string) (columnMap, bool, error) {
	cols := columnMap{Date: -1, Description: -1, Amount: -1, Debit: -1, Credit: -1}

	dateIdx, amountIdx := -1, -1
	for i, f := range first {
		f = strings.TrimSpace(f)
		if dateIdx < 0 {
			if _, err := parseStatementDate(f); err == nil {
				dateIdx = i
				continue
			}
		}
		if amountIdx < 0 && f != "" {
			if _, err := parseStatementAmount(f); err == nil {
				amountIdx = i
			}
		}
	}
	if dateIdx >= 0 && amountIdx >= 0 {
		// headerless file: infer the description column by elimination
		cols.Date = dateIdx
		cols.Amount = amountIdx
		for i, f := range first {
			if i == dateIdx || i == amountIdx {
				continue
			}
			if strings.TrimSpace(f) != "" {
				cols.Description = i
				break
			}
		}
		if cols.Description < 0 {
			return cols, true, fmt.Errorf("cannot infer description column")
		}
		return cols, true, nil
	}

	for i, h := range first {
		name := strings.ToLower(strings.TrimSpace(h))
		switch {
		case cols.Date < 0 && matchHeader(name, dateHeaders):
			cols.Date = i
		case cols.Description < 0 && matchHeader(name, descriptionHeaders):
			cols.Description = i
		case cols.Amount < 0 && matchHeader(name, amountHeaders):
			cols.Amount = i
		case cols.Debit < 0 && matchHeader(name, debitHeaders):
			cols.Debit = i
		case cols.Credit < 0 && matchHeader(name, creditHeaders):
			cols.Credit = i
		}
	}
	if cols.Date >= 0 && cols.Description >= 0 && (cols.Amount >= 0 || cols.Debit >= 0) {
		return cols, false, nil
	}
	// positional fallback for unrecognized headers
	if len(first) >= 3 {
		return columnMap{Date: 0, Description: 1, Amount: 2, Debit: -1, Credit: -1}, false, nil
	}
	return cols, false, fmt.Errorf("unrecognized columns: %s", strings.Join(first, ", "))
}

func matchHeader(name string, synonyms []string) bool {
	for _, s := range synonyms {
		if name == s {
			return true
		}
	}
	return false
}

func parseRow(rec []string, cols columnMap) (ParsedRow, bool, error) {
	desc := strings.TrimSpace(field(rec, cols.Description))
	if desc == "" {
		return ParsedRow{}, true, nil
	}

	dateStr := strings.TrimSpace(field(rec, cols.Date))
	date, err := parseStatementDate(dateStr)
	if err != nil {
		return ParsedRow{}, false, fmt.Errorf("date %q: %w", dateStr, err)
	}

	var amount float64
	fromCredit := false
	if cols.Amount >= 0 {
		raw := strings.TrimSpace(field(rec, cols.Amount))
		if raw == "" {
			return ParsedRow{}, true, nil
		}
		amount, err = parseStatementAmount(raw)
		if err != nil {
			return ParsedRow{}, false, fmt.Errorf("amount %q: %w", raw, err)
		}
	} else {
		debitRaw := strings.TrimSpace(field(rec, cols.Debit))
		creditRaw := strings.TrimSpace(field(rec, cols.Credit))
		switch {
		case debitRaw != "":
			amount, err = parseStatementAmount(debitRaw)
			if err != nil {
				return ParsedRow{}, false, fmt.Errorf("debit %q: %w", debitRaw, err)
			}
		case creditRaw != "":
			// inbound money: invert the sign before the absolute-value step
			amount, err = parseStatementAmount(creditRaw)
			if err != nil {
				return ParsedRow{}, false, fmt.Errorf("credit %q: %w", creditRaw, err)
			}
			amount = -amount
			fromCredit = true
		default:
			return ParsedRow{}, true, nil
		}
	}

	cents := int64(math.Round(math.Abs(amount) * 100))
	if cents == 0 {
		return ParsedRow{}, true, nil
	}
	return ParsedRow{Date: date, Description: desc, AmountCents: cents, FromCredit: fromCredit}, false, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// parseStatementAmount cleans currency symbols, separators and quotes,
// honors parenthesized and minus-prefixed negatives, and returns dollars.
func parseStatementAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	for _, sym := range []string{"$", "€", "£", ",", " "} {
		s = strings.ReplaceAll(s, sym, "")
	}
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if negative {
		f = -f
	}
	return f, nil
}

// parseStatementDate accepts ISO dates and US slash dates with 2- or
// 4-digit years. Two-digit years pivot at 50: 49 is 2049, 50 is 1950.
func parseStatementDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("unrecognized date format")
	}
	month, err1 := strconv.Atoi(parts[0])
	day, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("unrecognized date format")
	}
	switch len(parts[2]) {
	case 4:
	case 2:
		if year < 50 {
			year += 2000
		} else {
			year += 1900
		}
	default:
		return time.Time{}, fmt.Errorf("unrecognized year %q", parts[2])
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("date out of range")
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("date out of range")
	}
	return t, nil
}
