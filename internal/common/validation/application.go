package validation

import (
	"encoding/json"
	"sort"

	"btr-application-api/internal/models"
)

// Messages for the application document. Order of ApplicationFields is the
// order violations are reported in.
const (
	MsgTCNoRequired = "T.C. Kimlik Numarası gereklidir."
	MsgTCNoLength   = "T.C. Kimlik Numarası 11 haneli olmalıdır."
	MsgTCNoDigits   = "T.C. Kimlik Numarası yalnızca rakamlardan oluşmalıdır."
	MsgFullName     = "Ad Soyad gereklidir."
	MsgEmail        = "E-posta gereklidir."
)

var ApplicationFields = []string{
	"tcNo",
	"fullName",
	"branch",
	"email",
	"phone",
	"weeklyHours",
	"certificateDate",
	"normStatus",
	"preferences",
	"specialRequest",
	"teacherDate",
}

var fieldLabels = map[string]string{
	"tcNo":            "T.C. Kimlik Numarası",
	"fullName":        "Ad Soyad",
	"branch":          "Branş",
	"email":           "E-posta",
	"phone":           "Telefon",
	"weeklyHours":     "Haftalık saat",
	"certificateDate": "Sertifika tarihi",
	"normStatus":      "Norm durumu",
	"preferences":     "Tercihler",
	"specialRequest":  "Özel istek",
	"teacherDate":     "Atanma tarihi",
}

// field -> gojsonschema error type -> message
var ruleMessages = map[string]map[string]string{
	"tcNo": {
		"required":   MsgTCNoRequired,
		"string_gte": MsgTCNoLength,
		"string_lte": MsgTCNoLength,
		"pattern":    MsgTCNoDigits,
	},
	"fullName": {"required": MsgFullName},
	"email":    {"required": MsgEmail},
}

var ruleOrder = map[string]int{
	"required":   0,
	"string_gte": 1,
	"string_lte": 2,
	"pattern":    3,
}

// ApplicationSchema describes the stored application document.
func ApplicationSchema() JSONSchema {
	return JSONSchema{
		Type: "object",
		Properties: map[string]Property{
			"tcNo": {
				Type:      "string",
				MinLength: intPtr(11),
				MaxLength: intPtr(11),
				Pattern:   strPtr("^[0-9]+$"),
			},
			"fullName":        {Type: "string"},
			"branch":          {Type: "string"},
			"email":           {Type: "string"},
			"phone":           {Type: "string"},
			"weeklyHours":     {Type: "number"},
			"certificateDate": {Type: "string"},
			"normStatus":      {Type: "string"},
			"preferences":     {Type: "object"},
			"specialRequest":  {Type: "string"},
			"teacherDate":     {Type: "string"},
		},
		Required:             []string{"tcNo", "fullName", "email"},
		AdditionalProperties: boolPtr(false),
	}
}

// ApplicationValidator turns schema violations into the user facing messages.
type ApplicationValidator struct {
	validator *Validator
	position  map[string]int
}

func NewApplicationValidator() (*ApplicationValidator, error) {
	v, err := Compile(ApplicationSchema())
	if err != nil {
		return nil, err
	}
	position := make(map[string]int, len(ApplicationFields))
	for i, f := range ApplicationFields {
		position[f] = i
	}
	return &ApplicationValidator{validator: v, position: position}, nil
}

// Validate returns one message per violated rule, in field order, without
// duplicates. A nil slice means the document is valid.
func (a *ApplicationValidator) Validate(document interface{}) ([]string, error) {
	result, err := a.validator.Validate(document)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		return nil, nil
	}

	violations := result.Errors
	sort.SliceStable(violations, func(i, j int) bool {
		pi, pj := a.pos(violations[i].Field), a.pos(violations[j].Field)
		if pi != pj {
			return pi < pj
		}
		return rank(violations[i].Code) < rank(violations[j].Code)
	})

	seen := make(map[string]bool, len(violations))
	var messages []string
	for _, v := range violations {
		msg := messageFor(v)
		if seen[msg] {
			continue
		}
		seen[msg] = true
		messages = append(messages, msg)
	}
	return messages, nil
}

// ValidateInput validates the input together with any values that could not
// be cast to their field's type, so those are reported as field violations.
func (a *ApplicationValidator) ValidateInput(input models.ApplicationInput) ([]string, error) {
	if len(input.Invalid) == 0 {
		return a.Validate(input)
	}
	b, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]interface{})
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	for k, v := range input.Invalid {
		doc[k] = v
	}
	return a.Validate(doc)
}

func (a *ApplicationValidator) pos(field string) int {
	if p, ok := a.position[field]; ok {
		return p
	}
	return len(a.position)
}

func rank(code string) int {
	if r, ok := ruleOrder[code]; ok {
		return r
	}
	return len(ruleOrder)
}

func messageFor(v ValidationError) string {
	if msg, ok := ruleMessages[v.Field][v.Code]; ok {
		return msg
	}
	label, ok := fieldLabels[v.Field]
	if !ok {
		label = v.Field
	}
	if v.Code == "required" {
		return label + " gereklidir."
	}
	return label + " geçersiz."
}
