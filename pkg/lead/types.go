// Package lead holds the data types shared by the fulfillment engine, its
// collaborators and the concrete validators.
package lead

import (
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrEmptyFilters is returned when a Filters value cannot select any intent.
var ErrEmptyFilters = errors.New("filters need at least one of intent categories, keywords, or domains")

// Filters selects intent from the upstream source.
type Filters struct {
	IntentCategories []string `yaml:"intent_categories"`
	Zips             []string `yaml:"zips"`
	Keywords         []string `yaml:"keywords"`
	Domains          []string `yaml:"domains"`
}

// Validate reports whether the filters are specific enough to run a job.
// Zip codes alone only narrow a selection, they never define one.
func (f Filters) Validate() error {
	if len(f.IntentCategories) == 0 && len(f.Keywords) == 0 && len(f.Domains) == 0 {
		return errors.WithHint(ErrEmptyFilters, "set intent_categories, keywords or domains in the plan")
	}
	return nil
}

// Request asks the engine for Target validated leads matching Filters.
type Request struct {
	Filters Filters
	Target  int
}

// JobID identifies an asynchronous upstream intent job.
type JobID string

// Candidate is a not-yet-enriched identifier with the topical signals that
// produced it, one entry per intent event. A signal seen twice appears twice.
type Candidate struct {
	Key     string
	Signals []string
}

// MobilePhone is one phone number with its do-not-call flag.
type MobilePhone struct {
	Number    string
	DoNotCall bool
}

// Gender values as normalized from the upstream data.
type Gender string

const (
	GenderMale    Gender = "Male"
	GenderFemale  Gender = "Female"
	GenderUnknown Gender = "Unknown"
)

// Contact is the personal data attached to an identifier by enrichment.
type Contact struct {
	PersonID          string
	FirstName         string
	LastName          string
	Address           string
	City              string
	State             string
	ZipCode           string
	Zip4              string
	CountyName        string
	Latitude          float64
	Longitude         float64
	AddressType       string
	Gender            Gender
	Age               int
	BirthMonthAndYear string
	Emails            []string
	MobilePhones      []MobilePhone
	HouseholdIncome   string
	HouseholdNetWorth string
	HomeOwnerStatus   string
	MaritalStatus     string
	Occupation        string
	CreditRange       string
	Education         string
	LengthOfResidence int
	HouseholdAdults   int
	HouseholdChildren int
}

// Hash approximates person identity across distinct identifiers. Two
// records with the same hash most likely describe the same person.
func (c Contact) Hash() string {
	return strings.Join([]string{
		c.FirstName,
		c.LastName,
		c.ZipCode,
		strconv.Itoa(c.Age),
		c.HouseholdNetWorth,
		c.HouseholdIncome,
	}, " ")
}

// Record is an enriched identifier. Within one fulfillment result every key
// appears at most once.
type Record struct {
	Key     string
	Contact Contact
	Signals []string
}

// Clone returns a deep copy so transforming validators never mutate records
// owned by the caller.
func (r Record) Clone() Record {
	out := r
	out.Signals = slices.Clone(r.Signals)
	out.Contact.Emails = slices.Clone(r.Contact.Emails)
	out.Contact.MobilePhones = slices.Clone(r.Contact.MobilePhones)
	return out
}

// UniqueSignals returns the distinct signals in first-seen order.
func (r Record) UniqueSignals() []string {
	return dedupePreserveOrder(r.Signals)
}

// Keys returns the keys of records in order.
func Keys(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Key)
	}
	return out
}

func dedupePreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
