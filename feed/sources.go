package feed

import "hockey-notifier/pkg/notifier"

// DefaultSources are the competitions followed out of the box.
func DefaultSources() []notifier.Source {
	return []notifier.Source{
		{ID: "elite-hommes", Label: "Elite Hommes", ManifID: "4317"},
		{ID: "elite-femmes", Label: "Elite Femmes", ManifID: "4318"},
		{ID: "carquefou-1sh", Label: "Carquefou 1SH", PouleID: "11510"},
		{ID: "carquefou-2sh", Label: "Carquefou 2SH", PouleID: "11511"},
		{ID: "carquefou-sd", Label: "Carquefou SD", ManifID: "4318", TeamFilter: "CARQUEFOU"},
		{ID: "u14-garcons", Label: "U14 Garçons", ManifID: "4400"},
		{ID: "u14-garcons-a", Label: "U14 Garçons Poule A", ManifID: "4400", PouleLabel: "Poule A"},
		{ID: "u14-garcons-b", Label: "U14 Garçons Poule B", ManifID: "4400", PouleLabel: "Poule B"},
		{ID: "u14-filles", Label: "U14 Filles", ManifID: "4401"},
	}
}

// Lookup finds a source by id.
func Lookup(sources []notifier.Source, id string) (notifier.Source, bool) {
	for _, s := range sources {
		if s.ID == id {
			return s, true
		}
	}
	return notifier.Source{}, false
}
