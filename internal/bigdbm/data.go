package bigdbm

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Standard-Labs/real-intent/pkg/lead"
)

// person is the subset of an output 10026 row the contact mapping reads.
type person struct {
	ID                string    `json:"Id"`
	FirstName         string    `json:"First_Name"`
	LastName          string    `json:"Last_Name"`
	Address           string    `json:"Address"`
	City              string    `json:"City"`
	State             string    `json:"State"`
	Zip               string    `json:"Zip"`
	Zip4              string    `json:"Zip4"`
	CountyName        string    `json:"County_Name"`
	Latitude          flexFloat `json:"Latitude"`
	Longitude         flexFloat `json:"Longitude"`
	AddressType       string    `json:"Address_Type"`
	Gender            string    `json:"Gender"`
	BirthMonthAndYear string    `json:"Birth_Month_and_Year"`
	Age               flexInt   `json:"Age"`
	Emails            []string  `json:"Email_Array"`
	MobilePhone1      string    `json:"Mobile_Phone_1"`
	MobilePhone1DNC   string    `json:"Mobile_Phone_1_DNC"`
	MobilePhone2      string    `json:"Mobile_Phone_2"`
	MobilePhone2DNC   string    `json:"Mobile_Phone_2_DNC"`
	MobilePhone3      string    `json:"Mobile_Phone_3"`
	MobilePhone3DNC   string    `json:"Mobile_Phone_3_DNC"`
	ChildrenHH        flexInt   `json:"Children_HH"`
	CreditRange       string    `json:"Credit_Range"`
	IncomeHH          string    `json:"Income_HH"`
	NetWorthHH        string    `json:"Net_Worth_HH"`
	HomeOwner         string    `json:"Home_Owner"`
	MaritalStatus     string    `json:"Marital_Status"`
	Occupation        string    `json:"Occupation_Detail"`
	Education         string    `json:"Education"`
	LengthOfResidence flexInt   `json:"Length_of_Residence"`
	NumAdultsHH       flexInt   `json:"Num_Adults_HH"`
}

func (p person) contact() lead.Contact {
	c := lead.Contact{
		PersonID:          p.ID,
		FirstName:         p.FirstName,
		LastName:          p.LastName,
		Address:           p.Address,
		City:              p.City,
		State:             p.State,
		ZipCode:           p.Zip,
		Zip4:              p.Zip4,
		CountyName:        p.CountyName,
		Latitude:          float64(p.Latitude),
		Longitude:         float64(p.Longitude),
		AddressType:       p.AddressType,
		Gender:            mapGender(p.Gender),
		Age:               int(p.Age),
		BirthMonthAndYear: p.BirthMonthAndYear,
		Emails:            nonEmpty(p.Emails),
		HouseholdIncome:   p.IncomeHH,
		HouseholdNetWorth: p.NetWorthHH,
		HomeOwnerStatus:   p.HomeOwner,
		MaritalStatus:     p.MaritalStatus,
		Occupation:        p.Occupation,
		CreditRange:       p.CreditRange,
		Education:         p.Education,
		LengthOfResidence: int(p.LengthOfResidence),
		HouseholdAdults:   int(p.NumAdultsHH),
		HouseholdChildren: int(p.ChildrenHH),
	}
	for _, ph := range [][2]string{
		{p.MobilePhone1, p.MobilePhone1DNC},
		{p.MobilePhone2, p.MobilePhone2DNC},
		{p.MobilePhone3, p.MobilePhone3DNC},
	} {
		number := strings.TrimSpace(ph[0])
		if number == "" {
			continue
		}
		c.MobilePhones = append(c.MobilePhones, lead.MobilePhone{Number: number, DoNotCall: ph[1] == "1"})
	}
	return c
}

func mapGender(g string) lead.Gender {
	switch strings.TrimSpace(g) {
	case "M":
		return lead.GenderMale
	case "F":
		return lead.GenderFemale
	default:
		return lead.GenderUnknown
	}
}

// flexInt accepts a JSON number, a numeric string or an empty value.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrapf(err, "parse integer %q", s)
	}
	*f = flexInt(v)
	return nil
}

// flexFloat accepts a JSON number, a numeric string or an empty value.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrapf(err, "parse number %q", s)
	}
	*f = flexFloat(v)
	return nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type dataRequest struct {
	RequestID  string   `json:"RequestId"`
	ObjectList []string `json:"ObjectList"`
	OutputID   int      `json:"OutputId"`
}

type dataResponse struct {
	ReturnData map[string][]person `json:"returnData"`
}

// Contacts looks up contact data for hashed emails in one request.
// Identifiers the data API has no row for are absent from the result.
func (c *Client) Contacts(ctx context.Context, md5s []string) (map[string]lead.Contact, error) {
	if len(md5s) == 0 {
		return map[string]lead.Contact{}, nil
	}
	req := dataRequest{
		RequestID:  uuid.NewString(),
		ObjectList: md5s,
		OutputID:   c.cfg.OutputID,
	}
	var resp dataResponse
	if err := c.do(ctx, "getDataByMd5", http.MethodPost, resolve(c.dataURL, "GetDataBy/Md5"), req, &resp); err != nil {
		return nil, errors.Wrapf(err, "lookup %d identifiers", len(md5s))
	}

	out := make(map[string]lead.Contact, len(resp.ReturnData))
	for md5, rows := range resp.ReturnData {
		if len(rows) == 0 {
			continue
		}
		out[md5] = rows[0].contact()
	}
	c.log.Debug("looked up contacts",
		zap.String("request_id", req.RequestID),
		zap.Int("requested", len(md5s)),
		zap.Int("found", len(out)),
	)
	return out, nil
}
