package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/opendevdata/harvester/internal/fetch"
	"github.com/opendevdata/harvester/internal/harvest"
	"github.com/opendevdata/harvester/internal/workflows"
)

// ebrd harvests the European Bank for Reconstruction and Development. A
// CSV export yields partial rows plus project page links; a second stage
// patches each row with the finance details only the project page carries.
type ebrd struct {
	fetch       *fetch.Client
	downloadURL string
}

func newEBRD(deps workflows.Deps) *ebrd {
	return &ebrd{
		fetch:       deps.Fetch,
		downloadURL: "https://www.ebrd.com/content/dam/ebrd_dxp/projectsData.csv",
	}
}

// DownloadProjects pulls the bank's CSV export.
func (e *ebrd) DownloadProjects(ctx context.Context) ([]byte, string, error) {
	body, err := e.fetch.Get(ctx, e.downloadURL)
	if err != nil {
		return nil, "", err
	}
	return body, "text/csv", nil
}

// CleanProjects parses the export into partial rows and the project page
// URLs to enrich. Rows without a project id are noise and dropped.
func (e *ebrd) CleanProjects(_ context.Context, raw []byte) ([]harvest.ProjectSpec, []string, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse ebrd export: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[strings.TrimSpace(name)] = i
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var specs []harvest.ProjectSpec
	var urls []string
	for _, row := range records[1:] {
		number := cell(row, "Project ID")
		if number == "" {
			continue
		}
		url := cell(row, "URL link to project")
		if url == "" {
			continue
		}

		status := cell(row, "Project status")
		if status == "Passed Final Review" {
			status = "Pending Approval"
		}

		specs = append(specs, harvest.ProjectSpec{
			Source:        SourceEBRD,
			URL:           url,
			Name:          cell(row, "Title"),
			Number:        number,
			Status:        status,
			Countries:     cell(row, "Country"),
			Sectors:       cell(row, "Sector"),
			DateDisclosed: reformatDate("2 Jan 2006", cell(row, "Publication date")),
		})
		urls = append(urls, url)
	}
	return specs, urls, nil
}

// ScrapeProjectPartial enriches one row with the approval date, client
// names, and finance amount from the project page.
func (e *ebrd) ScrapeProjectPartial(ctx context.Context, url string) ([]harvest.ProjectPatch, error) {
	body, err := e.fetch.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	patch, err := parseEBRDProjectPage(url, body)
	if err != nil {
		return nil, err
	}
	return []harvest.ProjectPatch{patch}, nil
}

func parseEBRDProjectPage(url string, body []byte) (harvest.ProjectPatch, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return harvest.ProjectPatch{}, fmt.Errorf("parse project page %s: %w", url, err)
	}

	patch := harvest.ProjectPatch{Source: SourceEBRD, URL: url}

	// Each detail renders as a header followed by a paragraph.
	sectionText := func(header string) string {
		var out string
		doc.Find("h2, h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if !strings.EqualFold(cleanText(s.Text()), header) {
				return true
			}
			out = cleanText(s.NextFiltered("p").Text())
			return false
		})
		return out
	}

	if approved := reformatDate("2 Jan 2006", sectionText("Approval Date")); approved != "" {
		patch.DateApproved = harvest.String(approved)
	}
	if client := sectionText("Client"); client != "" {
		patch.Affiliates = harvest.String(client)
	}

	// Finance renders as "<currency> <amount>", e.g. "USD 21,000,000".
	if finance := sectionText("EBRD Finance"); finance != "" {
		fields := strings.Fields(finance)
		if len(fields) >= 2 {
			if amount := parseAmount(fields[1]); amount != nil {
				patch.TotalAmount = amount
				patch.TotalAmountCurrency = harvest.String(fields[0])
				if fields[0] == "USD" {
					patch.TotalAmountUSD = amount
				}
			}
		}
	}
	return patch, nil
}
