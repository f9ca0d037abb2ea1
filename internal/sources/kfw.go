package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opendevdata/harvester/internal/fetch"
	"github.com/opendevdata/harvester/internal/harvest"
	"github.com/opendevdata/harvester/internal/workflows"
)

// kfw harvests KfW Entwicklungsbank. The bank publishes its whole project
// database as one JSON download, so the pipeline is a single terminal
// download stage.
type kfw struct {
	fetch       *fetch.Client
	downloadURL string
	projectsURL string // base for the constructed per-project URLs
}

func newKFW(deps workflows.Deps) *kfw {
	return &kfw{
		fetch:       deps.Fetch,
		downloadURL: "https://www.kfw-entwicklungsbank.de/ipfz/Projektdatenbank/download/json",
		projectsURL: "https://www.kfw-entwicklungsbank.de/ipfz/Projektdatenbank",
	}
}

// kfwProject mirrors one entry of the bank's JSON export.
type kfwProject struct {
	Number          string   `json:"projnr"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	HostDate        string   `json:"hostDate"`
	FinanceType     string   `json:"finanzierungsinstrument"`
	AmountMillions  float64  `json:"amount"`
	SectorCode      string   `json:"crscode2"`
	Country         string   `json:"country"`
	Agencies        []string `json:"projekttraegers"`
	CofinancePartners []string `json:"kofinanzpartners"`
	Principal       string   `json:"principal"`
}

// principalNames expands the ministry abbreviations the export uses.
var principalNames = map[string]string{
	"BMZ":  "German Federal Ministry for Economic Cooperation and Development (BMZ)",
	"BMWK": "German Federal Ministry for Economic Affairs and Energy (BMWK)",
	"AA":   "German Federal Foreign Office (AA)",
	"BMUV": "German Federal Ministry for the Environment, Nature Conservation, Nuclear Safety and Consumer Protection (BMUV)",
	"BMF":  "German Federal Ministry of Finance (BMF)",
}

// DownloadProjects pulls the bank's full JSON export.
func (k *kfw) DownloadProjects(ctx context.Context) ([]byte, string, error) {
	body, err := k.fetch.Get(ctx, k.downloadURL)
	if err != nil {
		return nil, "", err
	}
	return body, "application/json", nil
}

// CleanProjects maps the export's schema onto project rows. Amounts are
// published in millions of euro.
func (k *kfw) CleanProjects(_ context.Context, raw []byte) ([]harvest.ProjectSpec, error) {
	var entries []kfwProject
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode kfw export: %w", err)
	}

	specs := make([]harvest.ProjectSpec, 0, len(entries))
	for _, entry := range entries {
		affiliates := append([]string{}, entry.Agencies...)
		affiliates = append(affiliates, entry.CofinancePartners...)
		if principal, ok := principalNames[entry.Principal]; ok {
			affiliates = append(affiliates, principal)
		}

		amount := entry.AmountMillions * 1e6
		specs = append(specs, harvest.ProjectSpec{
			Source:              SourceKFW,
			URL:                 k.projectURL(entry),
			Name:                entry.Title,
			Number:              entry.Number,
			Status:              entry.Status,
			Affiliates:          joinPipe(affiliates),
			Countries:           entry.Country,
			Sectors:             entry.SectorCode,
			FinanceTypes:        entry.FinanceType,
			DateLastUpdated:     reformatDate("January 2, 2006", entry.HostDate),
			TotalAmount:         harvest.Float64(amount),
			TotalAmountCurrency: "EUR",
		})
	}
	return specs, nil
}

// projectURL reconstructs the project page address the bank derives from
// the title and number.
func (k *kfw) projectURL(entry kfwProject) string {
	return fmt.Sprintf("%s/%s-%s.htm",
		k.projectsURL, strings.ReplaceAll(entry.Title, " ", "-"), entry.Number)
}
