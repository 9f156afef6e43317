package analysis

import "testing"

func TestParseAnalysisTranslatesLegacyShapes(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		check func(t *testing.T, best, recent int, first string)
	}{
		{
			name:  "comparable_titles as strings",
			reply: `{"genre": "Fantasy", "themes": ["power"], "tropes": ["chosen one"], "comparable_titles": ["The Name of the Wind", "Mistborn", ""]}`,
			check: func(t *testing.T, best, recent int, first string) {
				if best != 2 || recent != 0 || first != "The Name of the Wind" {
					t.Fatalf("best=%d recent=%d first=%q", best, recent, first)
				}
			},
		},
		{
			name:  "comps and recent_comps",
			reply: `{"genre": "Fantasy", "themes": "power", "comps": [{"title": "Mistborn"}], "recent_comps": [{"title": "Fourth Wing"}]}`,
			check: func(t *testing.T, best, recent int, first string) {
				if best != 1 || recent != 1 || first != "Mistborn" {
					t.Fatalf("best=%d recent=%d first=%q", best, recent, first)
				}
			},
		},
		{
			name:  "recent_titles",
			reply: `{"genre": "Fantasy", "themes": ["power"], "recent_titles": ["Fourth Wing", "Iron Flame"]}`,
			check: func(t *testing.T, best, recent int, first string) {
				if best != 0 || recent != 2 {
					t.Fatalf("best=%d recent=%d", best, recent)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnalysis(tt.reply)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.SchemaVersion != 1 || got.Genre != "Fantasy" || len(got.Themes) != 1 {
				t.Fatalf("unexpected result: %+v", got)
			}
			first := ""
			if len(got.BestComps) > 0 {
				first = got.BestComps[0].Title
			}
			tt.check(t, len(got.BestComps), len(got.RecentComps), first)
		})
	}
}

func TestParseAnalysisTranslatesLegacyTitleFields(t *testing.T) {
	got, err := ParseAnalysis(`{
	  "genre": "Thriller",
	  "themes": ["revenge"],
	  "comparable_titles": [{
	    "title": "Gone Girl",
	    "author": "Gillian Flynn",
	    "imprint": "Crown",
	    "publication_date": "2012-06-05",
	    "nyt_bestseller": true,
	    "copies_sold": 20000000,
	    "marketing_strategy": "Early reader buzz",
	    "similarity": "Unreliable narrator"
	  }]
	}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ct := got.BestComps[0]
	if ct.Publisher != "Crown" || ct.Year != 2012 || ct.EstimatedSales != "20000000" {
		t.Fatalf("unexpected title: %+v", ct)
	}
	if ct.Bestseller == nil || !*ct.Bestseller || ct.MarketingSummary != "Early reader buzz" || ct.Reason != "Unreliable narrator" {
		t.Fatalf("unexpected title: %+v", ct)
	}
	if got.RecentComps == nil {
		t.Fatalf("recentComps must be an empty list, not nil")
	}
}

func TestParseAnalysisPrefersCanonicalKeys(t *testing.T) {
	got, err := ParseAnalysis(`{"genre": "Horror", "themes": ["fear"], "bestComps": [{"title": "It", "why": "clowns"}], "comps": ["Carrie"]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.BestComps) != 1 || got.BestComps[0].Title != "It" || got.BestComps[0].Reason != "clowns" {
		t.Fatalf("unexpected comps: %+v", got.BestComps)
	}
}
