package classification

import "sort"

// Concept names used by the built-in ruleset.
const (
	ConceptName       = "name"
	ConceptEmail      = "email"
	ConceptPhone      = "phone"
	ConceptMessage    = "message"
	ConceptConsent    = "consent"
	ConceptSMS        = "sms"
	ConceptPostalCode = "postal_code"
	ConceptEquipment  = "equipment"
)

// Dictionary maps a concept to its multi-language synonyms.
type Dictionary map[string][]string

// DefaultDictionary returns a fresh copy of the built-in keyword lists
// (Polish, English, German, French, Spanish).
func DefaultDictionary() Dictionary {
	return Dictionary{
		ConceptName: {
			"imie", "imię", "nazwisko", "name", "firstname", "lastname",
			"vorname", "nachname", "nom", "prenom", "apellido", "nombre",
		},
		ConceptEmail: {
			"email", "e-mail", "mail", "emailadresse", "correo", "courriel",
			"posta elektroniczna", "adres email", "adres e-mail",
		},
		ConceptPhone: {
			"telefon", "phone", "tel", "telefonnummer", "telefono", "telephone",
			"komorkowy", "mobile", "numer", "kontaktowy",
		},
		ConceptMessage: {
			"wiadomosc", "wiadomość", "nachricht", "message", "mensaje", "texte",
			"treść", "tresc", "content", "pytanie",
		},
		ConceptConsent: {
			"zgod", "zgoda", "handlow", "marketingow", "einverstanden", "zustimmung",
			"consent", "agreement", "autorisation", "otrzymywanie",
		},
		ConceptSMS: {
			"sms", "tekstow", "text message",
		},
		ConceptPostalCode: {
			"kod pocztowy", "pocztowy", "postleitzahl", "zip", "postal", "code postal", "codigo postal",
		},
		ConceptEquipment: {
			"ciągnik", "ciagnik", "maszyny", "maszyna", "dienstleistung", "art der dienstleistung",
			"equipment", "machinery", "service", "wybierz ciagnik", "wybierz rodzaj uslugi",
		},
	}
}

// Merge returns a new dictionary holding d's keywords followed by extra's.
// Concepts only present in extra are added.
func (d Dictionary) Merge(extra Dictionary) Dictionary {
	out := make(Dictionary, len(d)+len(extra))
	for concept, words := range d {
		out[concept] = append([]string(nil), words...)
	}
	for concept, words := range extra {
		out[concept] = append(out[concept], words...)
	}
	return out
}

// Lookup returns the keywords of a concept.
func (d Dictionary) Lookup(concept string) ([]string, bool) {
	words, ok := d[concept]
	return words, ok
}

// Concepts returns the concept names, sorted.
func (d Dictionary) Concepts() []string {
	out := make([]string, 0, len(d))
	for c := range d {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
