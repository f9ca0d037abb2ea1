package sources

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/opendevdata/harvester/internal/fetch"
	"github.com/opendevdata/harvester/internal/harvest"
	"github.com/opendevdata/harvester/internal/workflows"
)

// adb harvests the Asian Development Bank. The site paginates its project
// search, so the pipeline seeds one task per results page, scrapes each
// page for project links, and scrapes each project page for the full
// record.
type adb struct {
	fetch     *fetch.Client
	searchURL string // results page URL, formatted with a page number
	baseURL   string // prefix for relative project links
}

func newADB(deps workflows.Deps) *adb {
	return &adb{
		fetch:     deps.Fetch,
		searchURL: "https://www.adb.org/projects?page=%d",
		baseURL:   "https://www.adb.org",
	}
}

// GenerateSeedURLs reads the pager on the first results page to learn the
// last page number and returns one URL per page.
func (a *adb) GenerateSeedURLs(ctx context.Context) ([]string, error) {
	firstPage := fmt.Sprintf(a.searchURL, 0)
	body, err := a.fetch.Get(ctx, firstPage)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse results page %s: %w", firstPage, err)
	}
	href, ok := doc.Find("li.pager__item--last a").Attr("href")
	if !ok {
		return nil, fmt.Errorf("no pager found on %s", firstPage)
	}
	parts := strings.Split(href, "=")
	lastPage, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return nil, fmt.Errorf("parse last page number from %q: %w", href, err)
	}

	urls := make([]string, 0, lastPage+1)
	for n := 0; n <= lastPage; n++ {
		urls = append(urls, fmt.Sprintf(a.searchURL, n))
	}
	return urls, nil
}

// ScrapeResultsPage collects the project page links from one results page.
func (a *adb) ScrapeResultsPage(ctx context.Context, pageURL string) ([]string, error) {
	c := colly.NewCollector()
	if ua := a.fetch.UserAgent(); ua != "" {
		c.UserAgent = ua
	}

	var urls []string
	c.OnHTML("div.list div.item a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if href == "" {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = a.baseURL + href
		}
		urls = append(urls, href)
	})

	done := make(chan error, 1)
	go func() { done <- c.Visit(pageURL) }()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, &harvest.FetchError{URL: pageURL, Err: err}
		}
	}
	return urls, nil
}

// ScrapeProject harvests one project detail page.
func (a *adb) ScrapeProject(ctx context.Context, url string) ([]harvest.ProjectSpec, error) {
	body, err := a.fetch.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	spec, err := parseADBProject(url, body)
	if err != nil {
		return nil, err
	}
	return []harvest.ProjectSpec{spec}, nil
}

func parseADBProject(url string, body []byte) (harvest.ProjectSpec, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return harvest.ProjectSpec{}, fmt.Errorf("parse project page %s: %w", url, err)
	}

	// Background details render as dt/dd pairs inside the article.
	ddFor := func(labels ...string) *goquery.Selection {
		var dd *goquery.Selection
		doc.Find("article dt").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, label := range labels {
				if cleanText(s.Text()) == label {
					dd = s.NextFiltered("dd")
					return false
				}
			}
			return true
		})
		return dd
	}
	fieldText := func(labels ...string) string {
		if dd := ddFor(labels...); dd != nil {
			return cleanText(dd.Text())
		}
		return ""
	}

	spec := harvest.ProjectSpec{
		Source: SourceADB,
		URL:    url,
		Name:   fieldText("Project Name"),
		Number: fieldText("Project Number"),
		Status: fieldText("Project Status"),
	}

	if dd := ddFor("Country / Economy", "Country"); dd != nil {
		spec.Countries = joinPipe(dd.Find("li").Map(func(_ int, li *goquery.Selection) string {
			return li.Text()
		}))
		if spec.Countries == "" {
			spec.Countries = cleanText(dd.Text())
		}
	}
	if dd := ddFor("Sector / Subsector"); dd != nil {
		spec.Sectors = joinPipe(dd.Find("strong.sector").Map(func(_ int, s *goquery.Selection) string {
			return s.Text()
		}))
	}
	if dd := ddFor("Implementing Agency", "Executing Agencies"); dd != nil {
		spec.Affiliates = joinPipe(dd.Find("span.address-company").Map(func(_ int, s *goquery.Selection) string {
			return s.Text()
		}))
	}

	spec.DateApproved = reformatDate("2 Jan 2006", fieldText("Approval"))

	// Funding rows sum across every fund table, skipping subheader rows.
	var total float64
	funded := false
	doc.Find("table.fund-table tbody tr").Each(func(_ int, row *goquery.Selection) {
		if row.HasClass("subhead") {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		if amount := parseAmount(cells.Eq(1).Text()); amount != nil {
			total += *amount
			funded = true
		}
	})
	if funded {
		spec.TotalAmount = harvest.Float64(total)
		spec.TotalAmountCurrency = "USD"
		spec.TotalAmountUSD = harvest.Float64(total)
	}

	// Milestone dates render as one table of th labels over td values.
	milestones := make(map[string]string)
	doc.Find("caption").EachWithBreak(func(_ int, caption *goquery.Selection) bool {
		if cleanText(caption.Text()) != "Milestones" {
			return true
		}
		table := caption.Parent()
		var labels []string
		table.Find("th").Each(func(_ int, th *goquery.Selection) {
			if label := cleanText(th.Text()); label != "Closing" {
				labels = append(labels, label)
			}
		})
		table.Find("td").Each(func(i int, td *goquery.Selection) {
			if i < len(labels) {
				milestones[labels[i]] = cleanText(td.Text())
			}
		})
		return false
	})
	spec.DateSigned = reformatDate("2 Jan 2006", milestones["Signing Date"])
	spec.DateEffective = reformatDate("2 Jan 2006", milestones["Effectivity Date"])
	spec.DatePlannedClose = reformatDate("2 Jan 2006", milestones["Original"])
	spec.DateRevisedClose = reformatDate("2 Jan 2006", milestones["Revised"])
	spec.DateActualClose = reformatDate("2 Jan 2006", milestones["Actual"])

	return spec, nil
}
