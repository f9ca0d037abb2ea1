package sources

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/opendevdata/harvester/internal/fetch"
	"github.com/opendevdata/harvester/internal/harvest"
	"github.com/opendevdata/harvester/internal/workflows"
)

// bio harvests the Belgian Investment Company for Developing Countries.
// Its listing cards carry the date, country, and amount the detail pages
// omit, so the results stage writes partial rows and the detail stage
// patches sectors and organisations in afterwards.
type bio struct {
	fetch           *fetch.Client
	searchURL       string // results page URL, formatted with a page number
	projectsPerPage int
}

func newBIO(deps workflows.Deps) *bio {
	return &bio{
		fetch:           deps.Fetch,
		searchURL:       "https://www.bio-invest.be/en/investments/p%d?search=",
		projectsPerPage: 9,
	}
}

// GenerateSeedURLs derives the page count from the result total shown on
// the first page.
func (b *bio) GenerateSeedURLs(ctx context.Context) ([]string, error) {
	firstPage := fmt.Sprintf(b.searchURL, 1)
	body, err := b.fetch.Get(ctx, firstPage)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse results page %s: %w", firstPage, err)
	}

	countText := cleanText(doc.Find("div.js-filter-results small").First().Text())
	fields := strings.Fields(countText)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no result count found on %s", firstPage)
	}
	total, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("parse result count %q: %w", countText, err)
	}

	lastPage := total / b.projectsPerPage
	if total%b.projectsPerPage > 0 {
		lastPage++
	}
	urls := make([]string, 0, lastPage)
	for n := 1; n <= lastPage; n++ {
		urls = append(urls, fmt.Sprintf(b.searchURL, n))
	}
	return urls, nil
}

// ScrapeResultsPage reads each listing card for both the project link and
// the partial record the card carries.
func (b *bio) ScrapeResultsPage(ctx context.Context, pageURL string) ([]string, []harvest.ProjectSpec, error) {
	body, err := b.fetch.Get(ctx, pageURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse results page %s: %w", pageURL, err)
	}

	var urls []string
	var specs []harvest.ProjectSpec
	doc.Find("div.card").Each(func(_ int, card *goquery.Selection) {
		title := card.Find("h3.card__title").First()
		url, ok := title.Find("a").Attr("href")
		if !ok {
			return
		}

		spec := harvest.ProjectSpec{
			Source: SourceBIO,
			URL:    url,
			Name:   cleanText(title.Text()),
		}
		if date := cleanText(card.Find(".icon--calendar").Parent().Text()); date != "" {
			spec.DateSigned = reformatDate("02/01/2006", date)
		}
		if countries := cleanText(card.Find(".icon--location").Parent().Text()); countries != "" {
			spec.Countries = joinPipe(strings.Split(countries, ","))
		}
		if amountText := cleanText(card.Find(".icon--euro").Parent().Text()); amountText != "" {
			if amount := parseAmount(amountText); amount != nil {
				spec.TotalAmount = amount
				spec.TotalAmountCurrency = "EUR"
			}
		}

		urls = append(urls, url)
		specs = append(specs, spec)
	})
	return urls, specs, nil
}

// ScrapeProjectPartial patches one row with the sector and organisation
// details from the project page.
func (b *bio) ScrapeProjectPartial(ctx context.Context, url string) ([]harvest.ProjectPatch, error) {
	body, err := b.fetch.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse project page %s: %w", url, err)
	}

	labelled := func(label string) string {
		var out string
		doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if cleanText(s.Text()) != label || s.Children().Length() > 0 {
				return true
			}
			sibling := s.Parent().NextFiltered("p")
			if sibling.Length() == 0 {
				sibling = s.Parent().NextFiltered("div").Find("p").First()
			}
			out = cleanText(sibling.Text())
			return false
		})
		return out
	}

	patch := harvest.ProjectPatch{Source: SourceBIO, URL: url}
	if organisation := labelled("Organisation"); organisation != "" {
		patch.Affiliates = harvest.String(organisation)
	}

	field := labelled("Investment field")
	activity := labelled("Activity")
	switch strings.ToLower(field) {
	case "":
	case "investment companies & funds", "financial institutions":
		patch.Sectors = harvest.String("Finance")
	default:
		sector := field
		if activity != "" {
			sector = fmt.Sprintf("%s: %s", field, activity)
		}
		patch.Sectors = harvest.String(sector)
	}
	return []harvest.ProjectPatch{patch}, nil
}
