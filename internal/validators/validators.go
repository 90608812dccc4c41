// Package validators holds the concrete lead validators. The engine treats
// every one of them as an opaque validate.Validator.
package validators

import (
	"context"
	"slices"

	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

// Income and net worth bands as labeled by the data API.
var (
	midIncomeBands = []string{
		"D. $30,000-$39,999",
		"E. $40,000-$49,999",
		"F. $50,000-$59,999",
		"G. $60,000-$74,999",
		"H. $75,000-$99,999",
		"K. $100,000-$149,999",
		"L. $150,000-$174,999",
		"M. $175,000-$199,999",
		"N. $200,000-$249,999",
		"O. $250K +",
	}
	highIncomeBands = midIncomeBands[4:]
	mnwIncomeBands  = midIncomeBands[5:]
	hnwIncomeBands  = midIncomeBands[8:]

	mnwNetWorthBands = []string{
		"H. $100,000 - $249,999",
		"I. $250,000 - $499,999",
		"J. Greater than $499,999",
	}
	hnwNetWorthBands = mnwNetWorthBands[1:]
)

// RealEstateAgentOccupation is the occupation label of realtors.
const RealEstateAgentOccupation = "Real Estate/Realtor"

func set(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func in(m map[string]struct{}, v string) bool {
	_, ok := m[v]
	return ok
}

// ZipCode keeps leads whose zip code is listed.
func ZipCode(zips ...string) validate.Validator {
	allowed := set(zips)
	return validate.Keep("zip_code", func(r lead.Record) bool {
		return in(allowed, r.Contact.ZipCode)
	})
}

// Contactable keeps leads with at least one phone or email.
func Contactable() validate.Validator {
	return validate.Keep("contactable", func(r lead.Record) bool {
		return len(r.Contact.MobilePhones) > 0 || len(r.Contact.Emails) > 0
	})
}

// KeyBlocklist drops leads whose identifier is listed.
func KeyBlocklist(keys ...string) validate.Validator {
	blocked := set(keys)
	return validate.Keep("key_blocklist", func(r lead.Record) bool {
		return !in(blocked, r.Key)
	})
}

// SignalCount keeps leads with at least minSignals signals. Without unique
// every intent event counts, so one topic seen three times is three. With
// unique set, only distinct signals count.
func SignalCount(minSignals int, unique bool) validate.Validator {
	return validate.Keep("signal_count", func(r lead.Record) bool {
		if unique {
			return len(r.UniqueSignals()) >= minSignals
		}
		return len(r.Signals) >= minSignals
	})
}

// Gender keeps leads of the listed genders.
func Gender(genders ...lead.Gender) validate.Validator {
	return validate.Keep("gender", func(r lead.Record) bool {
		return slices.Contains(genders, r.Contact.Gender)
	})
}

// AgeRange keeps leads aged within [minAge, maxAge].
func AgeRange(minAge, maxAge int) validate.Validator {
	return validate.Keep("age_range", func(r lead.Record) bool {
		return r.Contact.Age >= minAge && r.Contact.Age <= maxAge
	})
}

// RemoveOccupations drops leads with a listed occupation.
func RemoveOccupations(occupations ...string) validate.Validator {
	removed := set(occupations)
	return validate.Keep("remove_occupations", func(r lead.Record) bool {
		return !in(removed, r.Contact.Occupation)
	})
}

// NoRealEstateAgents drops realtors.
func NoRealEstateAgents() validate.Validator {
	v := RemoveOccupations(RealEstateAgentOccupation)
	return validate.Func{ID: "no_real_estate_agents", Fn: v.Validate}
}

func incomeAndNetWorth(name string, incomes, netWorths []string) validate.Validator {
	incomeSet := set(incomes)
	var worthSet map[string]struct{}
	if netWorths != nil {
		worthSet = set(netWorths)
	}
	return validate.Keep(name, func(r lead.Record) bool {
		if !in(incomeSet, r.Contact.HouseholdIncome) {
			return false
		}
		return worthSet == nil || in(worthSet, r.Contact.HouseholdNetWorth)
	})
}

// MidIncome keeps households earning $30k or more.
func MidIncome() validate.Validator {
	return incomeAndNetWorth("mid_income", midIncomeBands, nil)
}

// HighIncome keeps households earning $75k or more.
func HighIncome() validate.Validator {
	return incomeAndNetWorth("high_income", highIncomeBands, nil)
}

// MNW keeps medium net worth households: $100k+ income and $100k+ net worth.
func MNW() validate.Validator {
	return incomeAndNetWorth("mnw", mnwIncomeBands, mnwNetWorthBands)
}

// HNW keeps high net worth households: $200k+ income and $250k+ net worth.
func HNW() validate.Validator {
	return incomeAndNetWorth("hnw", hnwIncomeBands, hnwNetWorthBands)
}

// NotRenter drops renters.
func NotRenter() validate.Validator {
	return validate.Keep("not_renter", func(r lead.Record) bool {
		return r.Contact.HomeOwnerStatus != "Renter"
	})
}

// NotApartment drops high-rise addresses (address type "H").
func NotApartment() validate.Validator {
	return validate.Keep("not_apartment", func(r lead.Record) bool {
		return r.Contact.AddressType != "H"
	})
}

// HasEmail keeps leads with an email. Run it after EmailDeliverability to
// require a deliverable one.
func HasEmail() validate.Validator {
	return validate.Keep("has_email", func(r lead.Record) bool {
		return len(r.Contact.Emails) > 0
	})
}

// HasPhone keeps leads with a phone. Run it after PhoneValidity to require
// a valid one.
func HasPhone() validate.Validator {
	return validate.Keep("has_phone", func(r lead.Record) bool {
		return len(r.Contact.MobilePhones) > 0
	})
}

// DNC drops leads by do-not-call status. Normally only the primary phone
// counts; strict drops a lead when any phone is flagged. Leads without
// phones are kept either way.
func DNC(strict bool) validate.Validator {
	name := "dnc"
	if strict {
		name = "dnc_strict"
	}
	return validate.Keep(name, func(r lead.Record) bool {
		phones := r.Contact.MobilePhones
		if len(phones) == 0 {
			return true
		}
		if !strict {
			return !phones[0].DoNotCall
		}
		for _, p := range phones {
			if p.DoNotCall {
				return false
			}
		}
		return true
	})
}

// DNCPhoneRemover strips do-not-call phones from leads and keeps every lead.
func DNCPhoneRemover() validate.Validator {
	return validate.Func{
		ID: "dnc_phone_remover",
		Fn: func(_ context.Context, records []lead.Record) ([]lead.Record, error) {
			out := make([]lead.Record, 0, len(records))
			for _, r := range records {
				r = r.Clone()
				r.Contact.MobilePhones = slices.DeleteFunc(r.Contact.MobilePhones, func(p lead.MobilePhone) bool {
					return p.DoNotCall
				})
				out = append(out, r)
			}
			return out, nil
		},
	}
}

// Callable keeps leads with a phone whose primary number is callable. A nil
// phone validator defaults to HasPhone; a nil dnc validator to DNC(false).
func Callable(phone, dnc validate.Validator) validate.Validator {
	if phone == nil {
		phone = HasPhone()
	}
	if dnc == nil {
		dnc = DNC(false)
	}
	chain := []validate.Validator{phone, dnc}
	return validate.Func{
		ID: "callable",
		Fn: func(ctx context.Context, records []lead.Record) ([]lead.Record, error) {
			return validate.Run(ctx, chain, records, nil)
		},
	}
}

// SamePerson collapses leads that look like the same person (equal
// lead.Contact.Hash) into the first one seen, which absorbs the others'
// signals.
func SamePerson() validate.Validator {
	return validate.Func{
		ID: "same_person",
		Fn: func(_ context.Context, records []lead.Record) ([]lead.Record, error) {
			index := make(map[string]int, len(records))
			out := make([]lead.Record, 0, len(records))
			for _, r := range records {
				h := r.Contact.Hash()
				if i, ok := index[h]; ok {
					out[i].Signals = append(out[i].Signals, r.Signals...)
					continue
				}
				index[h] = len(out)
				out = append(out, r.Clone())
			}
			return out, nil
		},
	}
}
