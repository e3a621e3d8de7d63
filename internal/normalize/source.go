package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// flexString accepts a JSON string or number. Sources print rates either as
// "2,5 %" or as bare numbers depending on the page template.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	case len(data) > 0 && (data[0] == '-' || (data[0] >= '0' && data[0] <= '9')):
		*f = flexString(data)
		return nil
	}
	return fmt.Errorf("expected string or number, got %s", data)
}

var labeledCode = regexp.MustCompile(`^\s*([0-9IVXLCivxlc]+)\s*[-–—:]\s*(\S.*)$`)

// sourceDocument mirrors the scraped tariff page. Lists are pointers so that
// an absent section and an empty one can be told apart.
type sourceDocument struct {
	HSCode     flexString         `json:"hs_code"`
	Position   *sourcePosition    `json:"position_tarifaire"`
	Taxes      *[]sourceTax       `json:"droits_et_taxes"`
	Documents  *[]sourceDoc       `json:"documents_et_normes"`
	Agreements *[]sourceAgreement `json:"accords_et_conventions"`
	History    *[]sourceDuty      `json:"historique_droit_importation"`
}

func (d *sourceDocument) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Position, validation.Required),
		validation.Field(&d.Taxes, validation.Required),
		validation.Field(&d.Documents, validation.NotNil),
		validation.Field(&d.Agreements, validation.NotNil),
		validation.Field(&d.History),
	)
}

type sourceNode struct {
	Code  flexString `json:"code"`
	Label string     `json:"libelle"`
}

func (n sourceNode) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.Code, validation.Required),
	)
}

type sourcePosition struct {
	Section        string      `json:"section"`
	Chapter        string      `json:"chapitre"`
	Heading        *sourceNode `json:"position"`
	Subheading     *sourceNode `json:"sous_position"`
	Designation    string      `json:"designation"`
	Unit           string      `json:"unite"`
	EntryIntoForce string      `json:"date_entree_vigueur"`
}

func (p sourcePosition) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Section, validation.Required, validation.Match(labeledCode)),
		validation.Field(&p.Chapter, validation.Required, validation.Match(labeledCode)),
		validation.Field(&p.Heading),
		validation.Field(&p.Subheading),
		validation.Field(&p.Designation, validation.Required),
		validation.Field(&p.EntryIntoForce, validation.By(validDate)),
	)
}

type sourceTax struct {
	Code  string     `json:"code"`
	Label string     `json:"libelle"`
	Rate  flexString `json:"taux"`
}

func (t sourceTax) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Code, validation.Required),
		validation.Field(&t.Label, validation.Required),
		validation.Field(&t.Rate, validation.Required),
	)
}

type sourceDoc struct {
	Number flexString `json:"numero"`
	Name   string     `json:"document"`
	Issuer string     `json:"emetteur"`
}

func (d sourceDoc) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Number, validation.Required),
		validation.Field(&d.Name, validation.Required),
	)
}

type sourceAgreement struct {
	Country   string     `json:"pays"`
	Rate      flexString `json:"droit"`
	Condition string     `json:"condition"`
}

func (a sourceAgreement) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Country, validation.Required),
		validation.Field(&a.Rate, validation.Required),
	)
}

type sourceDuty struct {
	Date string     `json:"date"`
	Rate flexString `json:"taux"`
}

func (h sourceDuty) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Date, validation.Required, validation.By(validDate)),
		validation.Field(&h.Rate, validation.Required),
	)
}

func validDate(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if _, ok := parseDate(s); !ok {
		return validation.NewError("validation_date", "must be a date (dd/mm/yyyy or yyyy-mm-dd)")
	}
	return nil
}
