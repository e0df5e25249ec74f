package cnj

import (
	"strings"
	"testing"

	"github.com/litigio/comunicasync/internal/domain"
)

func validFilters() Filters {
	return Filters{
		Tribunal: "TJSP",
		Page:     1,
		PageSize: PageSizeFull,
	}
}

func TestFilters_Validate_OK(t *testing.T) {
	tests := []struct {
		name string
		f    Filters
	}{
		{"minimal", Filters{Page: 1, PageSize: PageSizeSmall}},
		{"full page size", Filters{Page: 3, PageSize: PageSizeFull}},
		{"medium edital", Filters{Page: 1, PageSize: PageSizeSmall, Medium: domain.MediumEdital}},
		{"date range", Filters{Page: 1, PageSize: PageSizeSmall, DateFrom: "2024-01-01", DateTo: "2024-01-31"}},
		{"oab pair", Filters{Page: 1, PageSize: PageSizeSmall, OABNumber: "123456", OABState: "SP"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.f.Validate(); err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestFilters_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		f       Filters
		wantErr string
	}{
		{"zero page", Filters{Page: 0, PageSize: PageSizeSmall}, "page must be >= 1"},
		{"negative page", Filters{Page: -1, PageSize: PageSizeSmall}, "page must be >= 1"},
		{"odd page size", Filters{Page: 1, PageSize: 50}, "page_size must be"},
		{"zero page size", Filters{Page: 1, PageSize: 0}, "page_size must be"},
		{"unknown medium", Filters{Page: 1, PageSize: PageSizeSmall, Medium: "carrier_pigeon"}, "unknown medium"},
		{"bad date_from", Filters{Page: 1, PageSize: PageSizeSmall, DateFrom: "01/02/2024"}, "invalid date_from"},
		{"bad date_to", Filters{Page: 1, PageSize: PageSizeSmall, DateTo: "2024-13-40"}, "invalid date_to"},
		{"oab number alone", Filters{Page: 1, PageSize: PageSizeSmall, OABNumber: "123456"}, "together"},
		{"oab state alone", Filters{Page: 1, PageSize: PageSizeSmall, OABState: "SP"}, "together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestFromParams(t *testing.T) {
	p := domain.QueryParams{
		Text:          "intimação",
		Tribunal:      "TJSP",
		PartyName:     "Fulano",
		LawyerName:    "Beltrana",
		ProcessNumber: "0001234-56.2024.8.26.0100",
		JudicialUnit:  "123",
		Medium:        "edital",
		DateFrom:      "2024-01-01",
		DateTo:        "2024-01-31",
	}

	f := FromParams(p)

	if f.Text != p.Text || f.Tribunal != p.Tribunal || f.PartyName != p.PartyName ||
		f.LawyerName != p.LawyerName || f.ProcessNumber != p.ProcessNumber ||
		f.JudicialUnit != p.JudicialUnit || f.DateFrom != p.DateFrom || f.DateTo != p.DateTo {
		t.Errorf("FromParams dropped fields: %+v", f)
	}
	if f.Medium != domain.MediumEdital {
		t.Errorf("Medium = %q, want %q", f.Medium, domain.MediumEdital)
	}
}

func TestFilters_QueryParameterNames(t *testing.T) {
	f := Filters{
		Text:                "intimação",
		Tribunal:            "TJSP",
		PartyName:           "Fulano",
		LawyerName:          "Beltrana",
		OABNumber:           "123456",
		OABState:            "SP",
		ProcessNumber:       "0001234-56.2024.8.26.0100",
		CommunicationNumber: 7,
		JudicialUnit:        "99",
		DateFrom:            "2024-01-01",
		DateTo:              "2024-01-31",
		Medium:              domain.MediumGazette,
		Page:                2,
		PageSize:            PageSizeFull,
	}

	v := f.query()

	want := map[string]string{
		"pagina":                     "2",
		"itensPorPagina":             "100",
		"texto":                      "intimação",
		"siglaTribunal":              "TJSP",
		"nomeParte":                  "Fulano",
		"nomeAdvogado":               "Beltrana",
		"numeroOab":                  "123456",
		"ufOab":                      "SP",
		"numeroProcesso":             "0001234-56.2024.8.26.0100",
		"numeroComunicacao":          "7",
		"orgaoId":                    "99",
		"dataDisponibilizacaoInicio": "2024-01-01",
		"dataDisponibilizacaoFim":    "2024-01-31",
		"meio":                       "D",
	}
	for key, value := range want {
		if got := v.Get(key); got != value {
			t.Errorf("query()[%s] = %q, want %q", key, got, value)
		}
	}
}

func TestFilters_QueryOmitsEmpty(t *testing.T) {
	v := validFilters().query()

	for _, key := range []string{"texto", "nomeParte", "numeroOab", "meio", "numeroComunicacao"} {
		if v.Has(key) {
			t.Errorf("query() should omit unset parameter %q", key)
		}
	}
}

func TestFilters_QueryMediumEdital(t *testing.T) {
	f := validFilters()
	f.Medium = domain.MediumEdital
	if got := f.query().Get("meio"); got != "E" {
		t.Errorf("meio = %q, want E", got)
	}
}
