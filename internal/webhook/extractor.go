package webhook

import (
	"maps"
	"regexp"
	"slices"
	"strings"
)

// Canonical lead fields a webhook payload can be mapped to.
const (
	FieldName    = "name"
	FieldPhone   = "phone"
	FieldEmail   = "email"
	FieldCompany = "company"
	FieldNotes   = "notes"
)

// IsCanonicalField reports whether field is a valid field_mapping target.
func IsCanonicalField(field string) bool {
	switch field {
	case FieldName, FieldPhone, FieldEmail, FieldCompany, FieldNotes:
		return true
	}
	return false
}

// ExtractedFields holds the lead fields found in a payload.
type ExtractedFields struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Company   string
	Notes     []string
}

// Name joins first and last name.
func (e ExtractedFields) Name() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// HasContact reports whether the lead can be reached.
func (e ExtractedFields) HasContact() bool {
	return e.Phone != "" || e.Email != ""
}

// MapFields applies the webhook's field mapping first and fills whatever is
// still empty with best-effort label matching over the remaining keys.
func MapFields(data map[string]string, mapping map[string]string) ExtractedFields {
	var result ExtractedFields
	rest := make(map[string]string, len(data))

	for _, key := range sortedKeys(data) {
		value := strings.TrimSpace(data[key])
		if value == "" {
			continue
		}
		target, ok := mapping[key]
		if !ok {
			rest[key] = value
			continue
		}
		switch target {
		case FieldName:
			setFullName(&result, value)
		case FieldPhone:
			result.Phone = value
		case FieldEmail:
			result.Email = value
		case FieldCompany:
			result.Company = value
		case FieldNotes:
			result.Notes = append(result.Notes, value)
		}
	}

	guessed := ExtractFields(rest)
	if result.FirstName == "" && result.LastName == "" {
		result.FirstName, result.LastName = guessed.FirstName, guessed.LastName
	}
	if result.Phone == "" {
		result.Phone = guessed.Phone
	}
	if result.Email == "" {
		result.Email = guessed.Email
	}
	if result.Company == "" {
		result.Company = guessed.Company
	}
	result.Notes = append(result.Notes, guessed.Notes...)
	return result
}

// ExtractFields performs best-effort field extraction from a flat string map of form data.
// It uses label matching to identify common fields across any form.
func ExtractFields(data map[string]string) ExtractedFields {
	var result ExtractedFields

	for _, key := range sortedKeys(data) {
		value := strings.TrimSpace(data[key])
		if value == "" {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(key))

		switch {
		case matchesAny(k, firstNamePatterns):
			result.FirstName = value
		case matchesAny(k, lastNamePatterns):
			result.LastName = value
		case matchesAny(k, fullNamePatterns):
			setFullName(&result, value)
		case matchesAny(k, emailPatterns):
			if emailRegex.MatchString(value) {
				result.Email = value
			}
		case matchesAny(k, phonePatterns):
			result.Phone = value
		case matchesAny(k, companyPatterns):
			result.Company = value
		case matchesAny(k, notesPatterns):
			result.Notes = append(result.Notes, value)
		}
	}

	return result
}

func setFullName(result *ExtractedFields, value string) {
	parts := strings.SplitN(value, " ", 2)
	result.FirstName = parts[0]
	result.LastName = ""
	if len(parts) > 1 {
		result.LastName = strings.TrimSpace(parts[1])
	}
}

// Field label patterns (Portuguese + English)
var (
	firstNamePatterns = []string{"first_name", "firstname", "first name", "primeiro_nome", "primeironome", "given_name", "fname"}
	lastNamePatterns  = []string{"last_name", "lastname", "last name", "sobrenome", "ultimo_nome", "family_name", "surname", "lname"}
	fullNamePatterns  = []string{"name", "nome", "full_name", "fullname", "nome_completo", "your_name", "seu_nome"}
	emailPatterns     = []string{"email", "e-mail", "e_mail", "emailaddress", "email_address", "mail"}
	phonePatterns     = []string{"phone", "telefone", "tel", "telephone", "phonenumber", "phone_number", "celular", "mobile", "whatsapp", "fone"}
	companyPatterns   = []string{"company", "empresa", "company_name", "organization", "organizacao", "business"}
	notesPatterns     = []string{"message", "mensagem", "notes", "observacao", "observacoes", "comment", "comments", "comentario", "description", "descricao", "question", "pergunta"}
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var labelReplacer = strings.NewReplacer("-", "", "_", "", " ", "")

func matchesAny(label string, patterns []string) bool {
	// Normalize: strip spaces, dashes, underscores for fuzzy matching
	normalized := labelReplacer.Replace(label)
	for _, p := range patterns {
		if normalized == labelReplacer.Replace(p) {
			return true
		}
	}
	return false
}

func sortedKeys(data map[string]string) []string {
	return slices.Sorted(maps.Keys(data))
}
