package igdb

import "strings"

// Game is the subset of an IGDB game record the application reads.
type Game struct {
	ID                int               `json:"id"`
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Cover             *Cover            `json:"cover"`
	Summary           string            `json:"summary"`
	Platforms         []Platform        `json:"platforms"`
	InvolvedCompanies []InvolvedCompany `json:"involved_companies"`
}

type Cover struct {
	URL string `json:"url"`
}

type Platform struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Company struct {
	Name string `json:"name"`
}

type InvolvedCompany struct {
	Company   Company `json:"company"`
	Developer bool    `json:"developer"`
	Publisher bool    `json:"publisher"`
}

// HasCover reports whether IGDB returned a cover image.
func (g Game) HasCover() bool {
	return g.Cover != nil && g.Cover.URL != ""
}

// CoverURL upgrades the protocol relative thumbnail url to an https large cover.
func (g Game) CoverURL() string {
	if !g.HasCover() {
		return ""
	}
	url := g.Cover.URL
	if strings.HasPrefix(url, "//") {
		url = "https:" + url
	}
	return strings.Replace(url, "t_thumb", "t_cover_big", 1)
}
