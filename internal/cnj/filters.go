package cnj

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/litigio/comunicasync/internal/domain"
)

// Page sizes accepted by the source API.
const (
	PageSizeSmall = 5
	PageSizeFull  = 100
)

// Filters describe one source query. Zero values mean "not filtered".
type Filters struct {
	Text                string
	Tribunal            string
	PartyName           string
	LawyerName          string
	OABNumber           string
	OABState            string
	ProcessNumber       string
	CommunicationNumber int
	JudicialUnit        string
	DateFrom            string // YYYY-MM-DD
	DateTo              string // YYYY-MM-DD
	Medium              domain.Medium

	Page     int
	PageSize int
}

// Validate rejects malformed filters before any I/O.
func (f Filters) Validate() error {
	if f.Page < 1 {
		return fmt.Errorf("page must be >= 1, got %d", f.Page)
	}
	if f.PageSize != PageSizeSmall && f.PageSize != PageSizeFull {
		return fmt.Errorf("page_size must be %d or %d, got %d", PageSizeSmall, PageSizeFull, f.PageSize)
	}
	if f.Medium != "" && f.Medium != domain.MediumEdital && f.Medium != domain.MediumGazette {
		return fmt.Errorf("unknown medium %q", f.Medium)
	}
	for _, d := range []struct {
		name, value string
	}{{"date_from", f.DateFrom}, {"date_to", f.DateTo}} {
		if d.value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d.value); err != nil {
			return fmt.Errorf("invalid %s %q: expected YYYY-MM-DD", d.name, d.value)
		}
	}
	if (f.OABNumber == "") != (f.OABState == "") {
		return fmt.Errorf("oab_number and oab_state must be provided together")
	}
	return nil
}

// FromParams builds Filters from a schedule's stored parameters.
func FromParams(p domain.QueryParams) Filters {
	return Filters{
		Text:          p.Text,
		Tribunal:      p.Tribunal,
		PartyName:     p.PartyName,
		LawyerName:    p.LawyerName,
		ProcessNumber: p.ProcessNumber,
		JudicialUnit:  p.JudicialUnit,
		DateFrom:      p.DateFrom,
		DateTo:        p.DateTo,
		Medium:        domain.Medium(p.Medium),
	}
}

// query maps the filters to the source API's parameter names.
func (f Filters) query() url.Values {
	v := url.Values{}
	v.Set("pagina", strconv.Itoa(f.Page))
	v.Set("itensPorPagina", strconv.Itoa(f.PageSize))

	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("texto", f.Text)
	set("siglaTribunal", f.Tribunal)
	set("nomeParte", f.PartyName)
	set("nomeAdvogado", f.LawyerName)
	set("numeroOab", f.OABNumber)
	set("ufOab", f.OABState)
	set("numeroProcesso", f.ProcessNumber)
	set("orgaoId", f.JudicialUnit)
	set("dataDisponibilizacaoInicio", f.DateFrom)
	set("dataDisponibilizacaoFim", f.DateTo)
	if f.CommunicationNumber > 0 {
		v.Set("numeroComunicacao", strconv.Itoa(f.CommunicationNumber))
	}
	switch f.Medium {
	case domain.MediumEdital:
		v.Set("meio", "E")
	case domain.MediumGazette:
		v.Set("meio", "D")
	}
	return v
}
