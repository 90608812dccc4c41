// Package leadcsv writes fulfilled leads as CSV and reads identifiers back
// from earlier deliveries.
package leadcsv

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/Standard-Labs/real-intent/pkg/lead"
)

// KeyColumn holds the lead identifier.
const KeyColumn = "md5"

const (
	maxEmails = 3
	maxPhones = 3
)

// Signals returns the distinct signals across records in first-seen order.
// Each one becomes a column.
func Signals(records []lead.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		for _, s := range r.Signals {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Header returns the CSV header: one column per signal, titled by its last
// ">" segment, then the contact columns, then the key. A signal whose short
// title is shared with another column keeps its full text instead.
func Header(signals []string) []string {
	short := make([]string, len(signals))
	uses := make(map[string]int, len(signals)+len(contactColumns)+1)
	for _, col := range contactColumns {
		uses[col]++
	}
	uses[KeyColumn]++
	for i, s := range signals {
		parts := strings.Split(s, ">")
		short[i] = strings.TrimSpace(parts[len(parts)-1])
		uses[strings.ToLower(short[i])]++
	}

	h := make([]string, 0, len(signals)+len(contactColumns)+1)
	for i, s := range signals {
		title := short[i]
		if uses[strings.ToLower(title)] > 1 {
			title = strings.TrimSpace(s)
		}
		h = append(h, title)
	}
	h = append(h, contactColumns...)
	return append(h, KeyColumn)
}

var contactColumns = []string{
	"first_name",
	"last_name",
	"email_1",
	"email_2",
	"email_3",
	"phone_1",
	"phone_1_dnc",
	"phone_2",
	"phone_2_dnc",
	"phone_3",
	"phone_3_dnc",
	"address",
	"city",
	"state",
	"zip_code",
	"zip4",
	"county_name",
	"latitude",
	"longitude",
	"age",
	"gender",
	"address_type",
	"birth_month_and_year",
	"n_household_children",
	"n_household_adults",
	"credit_range",
	"household_income",
	"household_net_worth",
	"home_owner_status",
	"marital_status",
	"occupation",
	"education",
	"length_of_residence",
}

// Row returns the CSV row of r under Header(signals).
func Row(r lead.Record, signals []string) []string {
	has := make(map[string]struct{}, len(r.Signals))
	for _, s := range r.Signals {
		has[s] = struct{}{}
	}
	row := make([]string, 0, len(signals)+len(contactColumns)+1)
	for _, s := range signals {
		mark := ""
		if _, ok := has[s]; ok {
			mark = "x"
		}
		row = append(row, mark)
	}

	c := r.Contact
	row = append(row, c.FirstName, c.LastName)
	for i := range maxEmails {
		row = append(row, at(c.Emails, i))
	}
	for i := range maxPhones {
		if i < len(c.MobilePhones) {
			p := c.MobilePhones[i]
			row = append(row, p.Number, strconv.FormatBool(p.DoNotCall))
			continue
		}
		row = append(row, "", "")
	}
	row = append(row,
		c.Address,
		c.City,
		c.State,
		c.ZipCode,
		c.Zip4,
		c.CountyName,
		coord(c.Latitude),
		coord(c.Longitude),
		count(c.Age),
		string(c.Gender),
		c.AddressType,
		c.BirthMonthAndYear,
		count(c.HouseholdChildren),
		count(c.HouseholdAdults),
		c.CreditRange,
		c.HouseholdIncome,
		c.HouseholdNetWorth,
		c.HomeOwnerStatus,
		c.MaritalStatus,
		c.Occupation,
		c.Education,
		count(c.LengthOfResidence),
	)
	return append(row, r.Key)
}

// Write writes records with a header. Nothing is written for no records.
func Write(w io.Writer, records []lead.Record) error {
	if len(records) == 0 {
		return nil
	}
	signals := Signals(records)
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(signals)); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, r := range records {
		if err := cw.Write(Row(r, signals)); err != nil {
			return errors.Wrapf(err, "write lead %s", r.Key)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// ReadKeys returns the values of the md5 column, skipping blanks. It reads
// files produced by Write as well as any CSV with an md5 column.
func ReadKeys(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	idx := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), KeyColumn) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.Newf("missing required column %q", KeyColumn)
	}

	var keys []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		if idx >= len(rec) {
			return nil, errors.Newf("row has %d columns, want at least %d", len(rec), idx+1)
		}
		if k := strings.TrimSpace(rec[idx]); k != "" {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

func coord(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func count(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
